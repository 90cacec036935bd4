package usecase

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserLocks_SerializesSameUser(t *testing.T) {
	locks := NewUserLocks()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock(42)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(t, 50, counter)
}

func TestUserLocks_DifferentUsersDoNotBlock(t *testing.T) {
	locks := NewUserLocks()

	unlockA := locks.Lock(1)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock(2)
		unlockB()
		close(done)
	}()
	<-done
}
