// Package kfmt provides the formatted output facilities used by the paging
// subsystem. Output is sent to a configurable sink; anything printed before a
// sink is installed is kept in a ring buffer and replayed into the first sink.
package kfmt

import "io"

// maxNumLen is the size of the scratch buffer used for formatting integers.
const maxNumLen = 64

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is installed.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently active output sink or nil if output is
// still being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf formats according to a format specifier and writes to the active
// output sink. The following subset of the fmt verbs is supported:
//
//   %s  strings, byte slices and values implementing String() or Error()
//   %d  base 10 integers, left-padded with spaces
//   %x  base 16 integers, left-padded with zeroes
//   %o  base 8 integers, left-padded with zeroes
//   %t  booleans
//   %%  a literal percent sign
//
// A decimal width may precede the verb.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer. A nil writer selects the early print buffer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var p printer
	p.format(format, args)

	if w == nil {
		earlyPrintBuffer.Write(p.buf)
		return
	}
	w.Write(p.buf)
}

// printer accumulates formatted output so that each call results in a
// single write to the sink.
type printer struct {
	buf []byte
}

func (p *printer) format(format string, args []interface{}) {
	var (
		argIndex int
		width    int
	)

	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			p.buf = append(p.buf, format[i])
			continue
		}

		width = 0
		for i++; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			width = width*10 + int(format[i]-'0')
		}

		if i == len(format) {
			p.buf = append(p.buf, errNoVerb...)
			break
		}

		verb := format[i]
		if verb == '%' {
			p.buf = append(p.buf, '%')
			continue
		}

		if argIndex >= len(args) {
			p.buf = append(p.buf, errMissingArg...)
			continue
		}

		switch verb {
		case 'd':
			p.fmtInt(args[argIndex], 10, width)
		case 'x':
			p.fmtInt(args[argIndex], 16, width)
		case 'o':
			p.fmtInt(args[argIndex], 8, width)
		case 's':
			p.fmtString(args[argIndex], width)
		case 't':
			p.fmtBool(args[argIndex])
		default:
			p.buf = append(p.buf, errNoVerb...)
			continue
		}
		argIndex++
	}

	for ; argIndex < len(args); argIndex++ {
		p.buf = append(p.buf, errExtraArg...)
	}
}

func (p *printer) fmtBool(v interface{}) {
	b, ok := v.(bool)
	switch {
	case !ok:
		p.buf = append(p.buf, errWrongArgType...)
	case b:
		p.buf = append(p.buf, trueValue...)
	default:
		p.buf = append(p.buf, falseValue...)
	}
}

func (p *printer) fmtString(v interface{}, width int) {
	var s string

	switch t := v.(type) {
	case string:
		s = t
	case []byte:
		s = string(t)
	case interface{ String() string }:
		s = t.String()
	case error:
		s = t.Error()
	default:
		p.buf = append(p.buf, errWrongArgType...)
		return
	}

	p.pad(' ', width-len(s))
	p.buf = append(p.buf, s...)
}

func (p *printer) pad(ch byte, count int) {
	for ; count > 0; count-- {
		p.buf = append(p.buf, ch)
	}
}

// fmtInt appends v in the requested base. All built-in integer types are
// supported; base 10 values are padded with spaces, other bases with zeroes.
func (p *printer) fmtInt(v interface{}, base uint64, width int) {
	var (
		uval uint64
		neg  bool
		num  [maxNumLen]byte
		pos  = maxNumLen
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, neg = abs(int64(t))
	case int16:
		uval, neg = abs(int64(t))
	case int32:
		uval, neg = abs(int64(t))
	case int64:
		uval, neg = abs(t)
	case int:
		uval, neg = abs(int64(t))
	default:
		p.buf = append(p.buf, errWrongArgType...)
		return
	}

	for {
		digit := uval % base
		pos--
		if digit < 10 {
			num[pos] = byte(digit) + '0'
		} else {
			num[pos] = byte(digit-10) + 'a'
		}

		if uval /= base; uval == 0 {
			break
		}
	}

	if width >= maxNumLen {
		width = maxNumLen - 1
	}

	digits := maxNumLen - pos
	if neg {
		digits++
	}

	if base == 10 {
		p.pad(' ', width-digits)
		if neg {
			p.buf = append(p.buf, '-')
		}
	} else {
		if neg {
			p.buf = append(p.buf, '-')
		}
		p.pad('0', width-digits)
	}

	p.buf = append(p.buf, num[pos:]...)
}

func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}
