package secretstore

import (
	"fmt"
	"io"

	"golang.org/x/term"

	"github.com/flokiorg/depinterm/errs"
)

// inputState drives the paste-safe password reader's explicit state
// machine (§4.1): normal text is echoed as '*' per printable character;
// ANSI escape sequences that arrive via paste (e.g. bracketed-paste
// wrappers, cursor codes) are recognized and silently dropped rather than
// echoed or inserted into the password buffer.
type inputState int

const (
	stateNormal inputState = iota
	stateEsc
	stateCSI
	stateOSC
	stateOSCEsc
)

const (
	byteBS    = 0x08
	byteDEL   = 0x7f
	byteCR    = '\r'
	byteLF    = '\n'
	byteEOT   = 0x04 // Ctrl-D
	byteETX   = 0x03 // Ctrl-C
	byteESC   = 0x1b
)

// Terminal is the minimal surface UnlockInteractive needs from a terminal;
// satisfied directly by an *os.File, or by a fake in tests.
type Terminal interface {
	io.Reader
	io.Writer
	Fd() uintptr
}

// readPassword puts t into raw mode and reads a single password line with
// paste-safe echoing. Returns the accumulated password bytes (without the
// terminator).
func readPassword(t Terminal) (string, error) {
	fd := int(t.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("secretstore: raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	return readPasswordFrom(t, t)
}

// readPasswordFrom implements the escape-filtering state machine against
// any reader/writer pair, independent of raw-mode setup, so it can be
// exercised directly against a fake terminal in tests.
func readPasswordFrom(r io.Reader, w io.Writer) (string, error) {
	var (
		buf   []byte
		state = stateNormal
		in    [1]byte
	)

	for {
		n, err := r.Read(in[:])
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", err
		}
		if n == 0 {
			continue
		}
		b := in[0]

		switch state {
		case stateEsc:
			if b == '[' {
				state = stateCSI
			} else if b == ']' {
				state = stateOSC
			} else {
				state = stateNormal
			}
			continue

		case stateCSI:
			// CSI sequences terminate on a byte in 0x40-0x7e.
			if b >= 0x40 && b <= 0x7e {
				state = stateNormal
			}
			continue

		case stateOSC:
			if b == byteESC {
				state = stateOSCEsc
			} else if b == 0x07 { // BEL terminator
				state = stateNormal
			}
			continue

		case stateOSCEsc:
			if b == '\\' {
				state = stateNormal
			} else {
				state = stateOSC
			}
			continue
		}

		// stateNormal
		switch {
		case b == byteESC:
			state = stateEsc

		case b == byteCR || b == byteLF:
			return string(buf), nil

		case b == byteEOT:
			return string(buf), nil

		case b == byteETX:
			return "", fmt.Errorf("secretstore: interrupted")

		case b == byteBS || b == byteDEL:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				_, _ = w.Write([]byte("\b \b"))
			}

		case b < 0x20 || b == 0x7f:
			// other C0 control codes are ignored. Input is read byte by
			// byte, so C1 control characters (UTF-8 encoded) are not
			// filtered and are kept like printable input.

		default:
			buf = append(buf, b)
			_, _ = w.Write([]byte{'*'})
		}
	}

	return string(buf), nil
}

// UnlockInteractive prompts for a password up to MaxUnlockAttempts times,
// returning the decrypted WIF on success or ErrMaxAttemptsExceeded once
// exhausted.
func UnlockInteractive(t Terminal, encoded string, maxAttempts int) (string, error) {
	if maxAttempts <= 0 {
		maxAttempts = MaxUnlockAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		fmt.Fprint(t, "Password: ")
		password, err := readPassword(t)
		fmt.Fprint(t, "\r\n")
		if err != nil {
			return "", err
		}

		wif, err := Decrypt(encoded, password)
		if err == nil {
			return wif, nil
		}
	}

	return "", errs.ErrMaxAttemptsExceeded
}
