//go:build !(linux && cgo)

package input

// CursorShape reports "default" on builds without X11 cgo support;
// the cursor-shape push loop simply never observes a change.
func (in *Injector) CursorShape() string {
	return "default"
}
