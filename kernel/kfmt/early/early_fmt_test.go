package early

import (
	"bytes"
	"testing"
	"unsafe"

	"memkern/kernel/driver/tty"
	"memkern/kernel/driver/video/console"
	"memkern/kernel/hal"
)

func TestPrintf(t *testing.T) {
	origTerm := hal.ActiveTerminal
	defer func() {
		hal.ActiveTerminal = origTerm
	}()

	// mute vet warnings about malformed printf formatting strings
	printfn := Printf

	ega := &console.Ega{}
	fb := make([]uint16, 80*25)
	ega.Init(80, 25, uintptr(unsafe.Pointer(&fb[0])))

	vt := &tty.Vt{}
	vt.AttachTo(ega)
	hal.ActiveTerminal = vt

	specs := []struct {
		fn        func()
		expOutput string
	}{
		{
			func() { printfn("no args") },
			"no args",
		},
		{
			func() { printfn("%t", true) },
			"true",
		},
		{
			func() { printfn("%s arg", "STRING") },
			"STRING arg",
		},
		{
			func() { printfn("'%4s' arg with padding", "ABC") },
			"' ABC' arg with padding",
		},
		{
			func() { printfn("uint arg: %d", uint8(10)) },
			"uint arg: 10",
		},
		{
			func() { printfn("uint arg: %o", uint16(0777)) },
			"uint arg: 777",
		},
		{
			func() { printfn("uint arg: 0x%x", uint32(0xbadf00d)) },
			"uint arg: 0xbadf00d",
		},
		{
			func() { printfn("int arg: %d", int8(-10)) },
			"int arg: -10",
		},
		{
			func() { printfn("more args", "foo", "bar") },
			"more args%!(EXTRA)%!(EXTRA)",
		},
		{
			func() { printfn("missing args %s") },
			"missing args (MISSING)",
		},
		{
			func() { printfn("not bool %t", "foo") },
			"not bool %!(WRONGTYPE)",
		},
	}

	for specIndex, spec := range specs {
		vt.Clear()
		vt.SetPosition(0, 0)
		for i := range fb {
			fb[i] = 0
		}

		spec.fn()

		if got := readRow(fb, 80); got != spec.expOutput {
			t.Errorf("[spec %d] expected to get\n%q\ngot:\n%q", specIndex, spec.expOutput, got)
		}
	}
}

func readRow(fb []uint16, width int) string {
	var buf bytes.Buffer
	for i := 0; i < width; i++ {
		ch := byte(fb[i] & 0xFF)
		if ch == 0 {
			break
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}
