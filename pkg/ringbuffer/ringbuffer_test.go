package ringbuffer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateError(t *testing.T) {
	for _, size := range []uint64{0, 1000} {
		_, err := New[[]byte](size)
		require.EqualError(t, err, "size must be a power of two")
	}
}

func TestPushBeforePull(t *testing.T) {
	r, err := New[[]byte](1024)
	require.NoError(t, err)
	defer r.Close()

	ok := r.Push(bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4))
	require.Equal(t, true, ok)

	ret, ok := r.Pull()
	require.Equal(t, true, ok)
	require.Equal(t, bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4), ret)
}

func TestPullBeforePush(t *testing.T) {
	r, err := New[[]byte](1024)
	require.NoError(t, err)
	defer r.Close()

	done := make(chan struct{})
	var ret []byte
	var retOK bool

	go func() {
		defer close(done)
		ret, retOK = r.Pull()
	}()

	time.Sleep(100 * time.Millisecond)

	ok := r.Push(bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4))
	require.Equal(t, true, ok)

	<-done
	require.Equal(t, true, retOK)
	require.Equal(t, bytes.Repeat([]byte{1, 2, 3, 4}, 1024/4), ret)
}

func TestClose(t *testing.T) {
	r, err := New[[]byte](1024)
	require.NoError(t, err)

	ok := r.Push([]byte{1, 2, 3, 4})
	require.Equal(t, true, ok)

	_, ok = r.Pull()
	require.Equal(t, true, ok)

	r.Close()

	_, ok = r.Pull()
	require.Equal(t, false, ok)

	r.Reset()

	ok = r.Push([]byte{9, 10, 11, 12})
	require.Equal(t, true, ok)

	data, ok := r.Pull()
	require.Equal(t, true, ok)
	require.Equal(t, []byte{9, 10, 11, 12}, data)
}

func TestCloseDrains(t *testing.T) {
	r, err := New[int](8)
	require.NoError(t, err)

	r.Push(1)
	r.Push(2)
	r.Close()

	for _, v := range []int{1, 2} {
		ret, ok := r.Pull()
		require.Equal(t, true, ok)
		require.Equal(t, v, ret)
	}

	_, ok := r.Pull()
	require.Equal(t, false, ok)
}

func TestOverflow(t *testing.T) {
	r, err := New[[]byte](32)
	require.NoError(t, err)

	for range 32 {
		ok := r.Push([]byte{1, 2, 3, 4})
		require.Equal(t, true, ok)
	}

	ok := r.Push([]byte{5, 6, 7, 8})
	require.Equal(t, false, ok)

	for range 32 {
		var data []byte
		data, ok = r.Pull()
		require.Equal(t, true, ok)
		require.Equal(t, []byte{1, 2, 3, 4}, data)
	}

	ok = r.Push([]byte{5, 6, 7, 8})
	require.Equal(t, true, ok)
}

func BenchmarkPushPullContinuous(b *testing.B) {
	r, _ := New[[]byte](1024 * 8)
	defer r.Close()

	data := make([]byte, 1024)

	for b.Loop() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 1024 * 8 {
				r.Push(data)
			}
		}()

		for range 1024 * 8 {
			r.Pull()
		}

		<-done
	}
}
