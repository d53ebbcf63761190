package viewmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObservable(t *testing.T) {
	o := NewObservable(1)
	assert.Equal(t, 1, o.Get())

	var seen []int
	cancel := o.Subscribe(func(v int) { seen = append(seen, v) })

	o.set(2)
	o.set(3)
	cancel()
	cancel()
	o.set(4)

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 4, o.Get())
}

func TestObservable_MultipleSubscribers(t *testing.T) {
	o := NewObservable("")

	var a, b []string
	o.Subscribe(func(v string) { a = append(a, v) })
	o.set("x")
	o.Subscribe(func(v string) { b = append(b, v) })
	o.set("y")

	assert.Equal(t, []string{"", "x", "y"}, a)
	assert.Equal(t, []string{"x", "y"}, b)
}
