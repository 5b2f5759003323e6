package field

import "fmt"

// Kind is the registration handle of a field kind. Handles are small dense
// integers handed out in registration order; the zero Kind is never
// registered.
type Kind uint16

// NoKind is the zero, unregistered handle.
const NoKind Kind = 0

// Valid reports whether k can refer to a registered kind.
func (k Kind) Valid() bool { return k != NoKind }

// String returns "kind#N".
func (k Kind) String() string {
	return fmt.Sprintf("kind#%d", uint16(k))
}
