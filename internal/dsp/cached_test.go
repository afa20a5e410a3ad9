package dsp

import (
	"math/cmplx"
	"sync"
	"testing"
)

func TestPlanCacheReusesBySize(t *testing.T) {
	cache := NewPlanCache()

	p := cache.Get(256)
	if p.Len() != 256 {
		t.Fatalf("plan length mismatch: got %d, want 256", p.Len())
	}
	cache.Put(p)

	q := cache.Get(512)
	if q.Len() != 512 {
		t.Fatalf("plan length mismatch: got %d, want 512", q.Len())
	}
	cache.Put(q)
	cache.Put(nil)
}

func TestPlanCacheConcurrentCorrectness(t *testing.T) {
	const size = 64
	cache := NewPlanCache()

	ref := NewPlan(size)
	for i := range ref.Input() {
		ref.Input()[i] = complex(float64(i)/size, 0)
	}
	want := append([]complex128(nil), ref.Forward()...)

	var wg sync.WaitGroup
	errs := make(chan int, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := cache.Get(size)
			defer cache.Put(p)
			for i := range p.Input() {
				p.Input()[i] = complex(float64(i)/size, 0)
			}
			got := p.Forward()
			for i := range want {
				if cmplx.Abs(got[i]-want[i]) > 1e-12 {
					errs <- i
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for i := range errs {
		t.Errorf("concurrent transform mismatch at index %d", i)
	}
}
