// Package keymap allocates the shared-memory file descriptor a
// wl_keyboard.keymap event hands to every client (spec §4.6). No pack
// repo binds libxkbcommon (that ecosystem is cgo-only), so keymap
// compilation itself is out of scope here: the compositor is handed an
// already-compiled XKB keymap string (via its Config, per §6
// "configuration consumed in memory") and this package only does the
// anonymous-file plumbing a real implementation would layer on top of
// whatever produced that string.
//
// Grounded on ctxmenu's wayland.go createTmpfile: an O_TMPFILE-style
// anonymous file is awkward to express portably in pure Go, so ctxmenu
// creates a named temp file under XDG_RUNTIME_DIR, truncates it to size,
// then unlinks it immediately while keeping the fd open. The same dance
// is reused here for the keymap fd instead of a shm pool.
package keymap

import (
	"fmt"
	"os"
)

// Write allocates an anonymous file containing the given XKB keymap text
// (NUL-terminated, as wl_keyboard.keymap requires) and returns its open
// file and size. The caller owns the returned file's lifetime — keep it
// open for as long as any client may still reference the fd; closing it
// after every GetKeyboard request has fired is safe since the client's
// own mmap keeps the pages alive.
func Write(text string) (*os.File, uint32, error) {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		return nil, 0, fmt.Errorf("keymap: XDG_RUNTIME_DIR is not set")
	}
	f, err := os.CreateTemp(dir, "axiomd-keymap-*")
	if err != nil {
		return nil, 0, err
	}
	payload := append([]byte(text), 0)
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return nil, 0, err
	}
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, uint32(len(payload)), nil
}

// DefaultKeymap is a minimal but valid XKB keymap string (US qwerty,
// evdev rules) used when the surrounding binary's Config supplies none.
// Real deployments should set Config.Keymap explicitly (§6); this default
// only keeps a freshly-started compositor usable out of the box.
const DefaultKeymap = `xkb_keymap {
	xkb_keycodes { include "evdev+aliases(qwerty)" };
	xkb_types    { include "complete" };
	xkb_compat   { include "complete" };
	xkb_symbols  { include "pc+us+inet(evdev)" };
};
`
