package sink

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/h264framer/pkg/frame"
)

func TestMulti(t *testing.T) {
	var order []string

	m := Multi{
		Func(func(*frame.Frame) error {
			order = append(order, "a")
			return nil
		}),
		Func(func(*frame.Frame) error {
			order = append(order, "b")
			return fmt.Errorf("disk full")
		}),
		Func(func(*frame.Frame) error {
			order = append(order, "c")
			return nil
		}),
	}

	err := m.WriteFrame(&frame.Frame{Format: frame.FormatH264})
	require.EqualError(t, err, "disk full")
	require.Equal(t, []string{"a", "b"}, order)
}
