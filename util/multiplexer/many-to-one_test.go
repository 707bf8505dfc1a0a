package multiplexer

import (
	"errors"
	"sync"
	"testing"
)

func TestManyToOne(t *testing.T) {
	ch := make(chan int, 10)
	m := NewManyToOne(ch)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Send(i); err != nil {
				t.Errorf("Send %d failed: %s", i, err)
			}
		}(i)
	}
	wg.Wait()
	m.Close()

	sum := 0
	for v := range ch {
		sum += v
	}
	if sum != 45 {
		t.Errorf("Expected all messages to arrive, sum is %d", sum)
	}
}

func TestManyToOneClosed(t *testing.T) {
	m := NewManyToOne(make(chan string))
	m.Close()
	m.Close()
	if !m.Closed() {
		t.Errorf("Multiplexer should report being closed")
	}
	if err := m.Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
