// Package validate implements the grammar that gates every untrusted
// argument before it can reach the argument vector of an external tool.
//
// A Rule matches a prefix of s starting at byte offset pos and reports the
// offset just past the match. Rules compose left to right without
// backtracking or allocation. Whole checks that a rule consumes the entire
// string; Prefix leaves the remainder to the caller.
package validate

// Rule matches a prefix of s[pos:]. On success next is the offset of the
// first unconsumed byte.
type Rule func(s string, pos int) (next int, ok bool)

// KeyLength is the length of a base64 encoded WireGuard key including its
// single padding character.
const KeyLength = 44

// Whole reports whether rule matches all of s.
func Whole(rule Rule, s string) bool {
	next, ok := rule(s, 0)
	return ok && next == len(s)
}

// Prefix matches rule at pos and returns where the match ended.
func Prefix(rule Rule, s string, pos int) (int, bool) {
	if pos < 0 || pos > len(s) {
		return pos, false
	}
	return rule(s, pos)
}

func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
func isLetter(c byte) bool { return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') }

func isKeyChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '+' || c == '/'
}

func isDeviceChar(c byte) bool {
	return isLetter(c) || isDigit(c) || c == '-' || c == '@'
}

// Digit matches a single ASCII digit.
func Digit(s string, pos int) (int, bool) {
	if pos < len(s) && isDigit(s[pos]) {
		return pos + 1, true
	}
	return pos, false
}

// Letter matches a single ASCII letter.
func Letter(s string, pos int) (int, bool) {
	if pos < len(s) && isLetter(s[pos]) {
		return pos + 1, true
	}
	return pos, false
}

// Literal matches exactly the byte c.
func Literal(c byte) Rule {
	return func(s string, pos int) (int, bool) {
		if pos < len(s) && s[pos] == c {
			return pos + 1, true
		}
		return pos, false
	}
}

// Number greedily matches between one and maxDigits digits. It bounds the
// digit count only; callers range check the parsed value.
func Number(maxDigits int) Rule {
	return func(s string, pos int) (int, bool) {
		next := pos
		for next < len(s) && next-pos < maxDigits && isDigit(s[next]) {
			next++
		}
		if next == pos {
			return pos, false
		}
		return next, true
	}
}

// Seq matches each rule in turn, each starting where the previous one ended.
func Seq(rules ...Rule) Rule {
	return func(s string, pos int) (int, bool) {
		next := pos
		for _, rule := range rules {
			var ok bool
			if next, ok = rule(s, next); !ok {
				return pos, false
			}
		}
		return next, true
	}
}

// DeviceName matches a letter followed by any number of letters, digits,
// '-' or '@'.
func DeviceName(s string, pos int) (int, bool) {
	next, ok := Letter(s, pos)
	if !ok {
		return pos, false
	}
	for next < len(s) && isDeviceChar(s[next]) {
		next++
	}
	return next, true
}

var (
	octet = Number(3)
	dot   = Literal('.')
	ipv4  = Seq(octet, dot, octet, dot, octet, dot, octet)
	cidr  = Seq(ipv4, Literal('/'), Number(2))
	hostp = Seq(ipv4, Literal(':'), Number(5))
)

// IPv4 matches four dot separated groups of at most three digits. Octet
// values are not bounded.
func IPv4(s string, pos int) (int, bool) { return ipv4(s, pos) }

// Network matches an IPv4 address, '/' and a prefix length of at most two
// digits.
func Network(s string, pos int) (int, bool) { return cidr(s, pos) }

// Endpoint matches an IPv4 address, ':' and a port of at most five digits.
func Endpoint(s string, pos int) (int, bool) { return hostp(s, pos) }

// Key matches 43 characters from the standard base64 alphabet followed by
// '='.
func Key(s string, pos int) (int, bool) { return matchKey(s, pos) }

// IsKeyBytes is IsKey for key material that must not be copied into a
// string.
func IsKeyBytes(p []byte) bool {
	next, ok := matchKey(p, 0)
	return ok && next == len(p)
}

func matchKey[T string | []byte](s T, pos int) (int, bool) {
	end := pos + KeyLength - 1
	if end >= len(s) {
		return pos, false
	}
	for i := pos; i < end; i++ {
		if !isKeyChar(s[i]) {
			return pos, false
		}
	}
	if s[end] != '=' {
		return pos, false
	}
	return end + 1, true
}

// IsNumber reports whether s is 1 to maxDigits decimal digits.
func IsNumber(maxDigits int, s string) bool { return Whole(Number(maxDigits), s) }

// IsDeviceName reports whether s is a letter followed by letters, digits, '-' or '@'.
func IsDeviceName(s string) bool { return Whole(DeviceName, s) }

// IsIPv4 reports whether s is a dotted quad of up to three digits per octet.
func IsIPv4(s string) bool { return Whole(IPv4, s) }

// IsNetwork reports whether s is an IPv4 address, '/' and a prefix length.
func IsNetwork(s string) bool { return Whole(Network, s) }

// IsEndpoint reports whether s is an IPv4 address, ':' and a port.
func IsEndpoint(s string) bool { return Whole(Endpoint, s) }

// IsKey reports whether s is a base64 WireGuard key.
func IsKey(s string) bool { return Whole(Key, s) }
