// Package hal wires the platform-specific console and terminal together so
// the rest of the kernel can print diagnostics through a single,
// allocation-free entry point.
package hal

import (
	"memkern/kernel/driver/tty"
	"memkern/kernel/driver/video/console"
	"memkern/kernel/hal/multiboot"
)

var (
	egaConsole = &console.Ega{}

	// ActiveTerminal points to the currently active terminal.
	ActiveTerminal = &tty.Vt{}
)

// InitTerminal provides a basic terminal to allow the kernel to emit some
// output till everything is properly setup.
func InitTerminal() {
	fbInfo := multiboot.GetFramebufferInfo()

	egaConsole.Init(uint16(fbInfo.Width), uint16(fbInfo.Height), uintptr(fbInfo.PhysAddr))
	ActiveTerminal.AttachTo(egaConsole)
}
