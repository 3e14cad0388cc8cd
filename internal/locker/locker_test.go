package locker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockerSerializesKey(t *testing.T) {
	l := New[int64]()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(1)
			defer unlock()
			// без блокировки race detector поймает гонку
			counter++
		}()
	}
	wg.Wait()

	require.Equal(t, 100, counter)
	require.Equal(t, 0, l.Len())
}

func TestLockerIndependentKeys(t *testing.T) {
	l := New[string]()

	unlockA := l.Lock("a")
	// другой ключ не должен ждать
	unlockB := l.Lock("b")
	require.Equal(t, 2, l.Len())

	unlockB()
	unlockA()
	require.Equal(t, 0, l.Len())
}
