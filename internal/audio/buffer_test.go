package audio

import (
	"testing"
)

func TestSampleRing_Write(t *testing.T) {
	rb := NewSampleRing(9)

	written := rb.Write([]float32{0.1, 0.2, 0.3, 0.4, 0.5})
	if written != 5 {
		t.Errorf("Expected to write 5 samples, got %d", written)
	}
	if rb.Available() != 5 {
		t.Errorf("Expected available 5, got %d", rb.Available())
	}

	written = rb.Write([]float32{0.6, 0.7, 0.8})
	if written != 3 {
		t.Errorf("Expected to write 3 samples, got %d", written)
	}
	if written = rb.Write([]float32{0.9, 1.0}); written != 1 {
		t.Errorf("Expected the last free slot to take 1 sample, got %d", written)
	}
}

func TestSampleRing_WriteOverflow(t *testing.T) {
	rb := NewSampleRing(4)

	written := rb.Write([]float32{1, 2, 3, 4, 5, 6})
	if written != 4 {
		t.Errorf("Expected to write 4 samples (capacity), got %d", written)
	}
	if rb.Available() != 4 {
		t.Errorf("Expected a full ring, got %d", rb.Available())
	}
	if written = rb.Write([]float32{7}); written != 0 {
		t.Errorf("Expected to write 0 samples into a full ring, got %d", written)
	}
}

func TestSampleRing_ReadFrame(t *testing.T) {
	rb := NewSampleRing(8)
	rb.Write([]float32{1, 2, 3})

	if _, ok := rb.ReadFrame(4); ok {
		t.Error("Expected ReadFrame to wait for a full frame")
	}
	if rb.Available() != 3 {
		t.Errorf("Expected a short ReadFrame to leave data untouched, got %d", rb.Available())
	}

	rb.Write([]float32{4, 5})
	frame, ok := rb.ReadFrame(4)
	if !ok {
		t.Fatal("Expected a full frame")
	}
	for i, want := range []float32{1, 2, 3, 4} {
		if frame[i] != want {
			t.Errorf("frame[%d] = %v, want %v", i, frame[i], want)
		}
	}
	if rb.Available() != 1 {
		t.Errorf("Expected 1 sample left, got %d", rb.Available())
	}
}

func TestSampleRing_WrapAround(t *testing.T) {
	rb := NewSampleRing(4)
	rb.Write([]float32{1, 2, 3, 4})
	rb.ReadFrame(2)
	rb.Write([]float32{5, 6})

	frame, ok := rb.ReadFrame(4)
	if !ok {
		t.Fatal("Expected a full frame after wrap-around")
	}
	for i, want := range []float32{3, 4, 5, 6} {
		if frame[i] != want {
			t.Errorf("Expected %v at position %d, got %v", want, i, frame[i])
		}
	}
}

func TestSampleRing_Clear(t *testing.T) {
	rb := NewSampleRing(10)
	rb.Write([]float32{1, 2, 3})
	rb.Clear()
	if rb.Available() != 0 {
		t.Errorf("Expected available 0 after clear, got %d", rb.Available())
	}
	if written := rb.Write(make([]float32, 12)); written != 10 {
		t.Errorf("Expected full capacity after clear, wrote %d", written)
	}
}
