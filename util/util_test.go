package util

import "testing"

func TestUnpack(t *testing.T) {
	var a, b, c string
	if n := Unpack([]string{"x", "y"}, &a, &b, &c); n != 2 {
		t.Errorf("Expected 2 values set, got %d", n)
	}
	if a != "x" || b != "y" || c != "" {
		t.Errorf("Unexpected values %q %q %q", a, b, c)
	}
	if n := Unpack([]string{"1", "2", "3"}, &a); n != 1 || a != "1" {
		t.Errorf("Extra elements should be ignored, got %d %q", n, a)
	}
}
