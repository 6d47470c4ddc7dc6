package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

func TestNewFrame_CopiesPayload(t *testing.T) {
	payload := []byte{1, 2, 3}
	f := NewFrame(device.KindSparkMax, payload)
	defer Release(f)

	payload[0] = 9
	if got := f.Bytes(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Bytes() = %v, want [1 2 3]", got)
	}
	if f.Kind() != device.KindSparkMax {
		t.Errorf("Kind() = %s, want spark_max", f.Kind())
	}
}

func TestFrame_MarshalLayout(t *testing.T) {
	f := NewFrame(device.KindNavX, []byte{0xaa, 0xbb})
	defer Release(f)

	got, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	want := []byte{byte(device.KindNavX), 2, 0, 0, 0, 0xaa, 0xbb}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalBinary() = %v, want %v", got, want)
	}

	parsed, n, err := ParseFrame(append(got, 0xff))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	defer Release(parsed)
	if n != len(want) {
		t.Errorf("ParseFrame() consumed %d, want %d", n, len(want))
	}
	if !bytes.Equal(parsed.Bytes(), []byte{0xaa, 0xbb}) {
		t.Errorf("parsed payload = %v", parsed.Bytes())
	}
}

func TestParseFrame_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrShortFrame},
		{"truncated payload", []byte{1, 4, 0, 0, 0, 1}, ErrShortFrame},
		{"unknown kind", []byte{42, 0, 0, 0, 0}, device.ErrUnknownKind},
		{"too large", []byte{1, 0xff, 0xff, 0xff, 0x7f}, ErrFrameTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseFrame(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("ParseFrame() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRelease(t *testing.T) {
	t.Run("marks frame released", func(t *testing.T) {
		f := NewFrame(device.KindSparkMax, []byte{1})
		Release(f)
		if !f.Released() {
			t.Error("Released() = false after Release")
		}
	})

	t.Run("nil is ignored", func(t *testing.T) {
		Release(nil)
	})

	t.Run("double release panics", func(t *testing.T) {
		f := NewFrame(device.KindSparkMax, []byte{1})
		Release(f)
		assertPanics(t, func() { Release(f) })
	})

	t.Run("use after release panics", func(t *testing.T) {
		f := NewFrame(device.KindNavX, []byte{1})
		Release(f)
		assertPanics(t, func() { _ = f.Bytes() })
	})

	t.Run("unknown kind panics", func(t *testing.T) {
		assertPanics(t, func() { NewFrame(device.Kind(77), nil) })
		f := &Frame{kind: device.Kind(77)}
		assertPanics(t, func() { Release(f) })
	})
}

func TestCodec(t *testing.T) {
	payload := NewWriter(32).Bool(true).U8(7).U32(1_000_000).I64(-5).F64(3.25).Bytes()

	r := NewReader(payload)
	if !r.Bool() {
		t.Error("Bool() = false")
	}
	if got := r.U8(); got != 7 {
		t.Errorf("U8() = %d", got)
	}
	if got := r.U32(); got != 1_000_000 {
		t.Errorf("U32() = %d", got)
	}
	if got := r.I64(); got != -5 {
		t.Errorf("I64() = %d", got)
	}
	if got := r.F64(); got != 3.25 {
		t.Errorf("F64() = %v", got)
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}

	t.Run("short read", func(t *testing.T) {
		r := NewReader([]byte{1, 2})
		_ = r.F64()
		if !errors.Is(r.Err(), device.ErrMalformedPayload) {
			t.Errorf("Err() = %v, want ErrMalformedPayload", r.Err())
		}
	})

	t.Run("trailing bytes", func(t *testing.T) {
		r := NewReader([]byte{1, 2})
		_ = r.U8()
		if !errors.Is(r.Err(), device.ErrMalformedPayload) {
			t.Errorf("Err() = %v, want ErrMalformedPayload", r.Err())
		}
	})
}

func assertPanics(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	fn()
}
