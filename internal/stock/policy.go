package stock

import "fmt"

// Policy decides how a stock check resolves when the catalog cannot answer.
type Policy int

const (
	// FailOpen treats an unverifiable product as available without limit.
	FailOpen Policy = iota
	// FailClosed rejects the mutation when stock cannot be verified.
	FailClosed
)

func (p Policy) String() string {
	switch p {
	case FailOpen:
		return "fail_open"
	case FailClosed:
		return "fail_closed"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the STOCK_CHECK_POLICY configuration value.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "fail_open":
		return FailOpen, nil
	case "fail_closed":
		return FailClosed, nil
	default:
		return FailOpen, fmt.Errorf("unknown stock check policy %q (want fail_open or fail_closed)", s)
	}
}
