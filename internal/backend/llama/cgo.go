//go:build llama

package llama

// cgo link directives for the in-process llama.cpp backend.
// - rpath of $ORIGIN so the runtime loader finds libllama.so alongside
//   the built binary.
// - -L${SRCDIR}/../../../bin so the linker finds libllama.so at link
//   time when building with -tags llama.
/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lllama
*/
import "C"
