//go:build rp2040 || rp2350

package logx

import "strconv"

// MCU builds format with a small verb subset (%s %d %x %v %t %%) to keep
// the binary lean, and emit through println (USB CDC / UART console).

func write(lv Level, component, format string, a []any) {
	println("[" + component + "] " + lv.tag() + ": " + sprintf(format, a))
}

func sprintf(format string, args []any) string {
	var buf []byte
	ai := 0
	for i := 0; i < len(format); {
		c := format[i]
		if c != '%' {
			buf = append(buf, c)
			i++
			continue
		}
		if i+1 < len(format) && format[i+1] == '%' {
			buf = append(buf, '%')
			i += 2
			continue
		}
		i++
		if i >= len(format) || ai >= len(args) {
			break
		}
		verb := format[i]
		i++
		arg := args[ai]
		ai++
		switch verb {
		case 'd', 'v', 's', 't':
			buf = append(buf, plain(arg)...)
		case 'x', 'X':
			buf = append(buf, hex(arg, verb == 'X')...)
		default:
			buf = append(buf, '%', verb)
		}
	}
	return string(buf)
}

func plain(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case error:
		return x.Error()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', 3, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', 3, 64)
	}
	return "<unk>"
}

func hex(v any, upper bool) string {
	var u uint64
	switch x := v.(type) {
	case int:
		u = uint64(x)
	case uint8:
		u = uint64(x)
	case uint16:
		u = uint64(x)
	case uint32:
		u = uint64(x)
	case uint64:
		u = x
	default:
		return plain(v)
	}
	s := strconv.FormatUint(u, 16)
	if !upper {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if 'a' <= c && c <= 'f' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
