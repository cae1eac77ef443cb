package sim

type Counter struct {
	Visits   int
	Accepted int
	Pending  int
	Rejected int
	ByLevel  [5]int
}

func (c *Counter) Add(v Visit, decision string) {
	c.Visits++
	if v.SecurityLevel >= 1 && v.SecurityLevel <= 4 {
		c.ByLevel[v.SecurityLevel]++
	}
	switch decision {
	case "accepted":
		c.Accepted++
	case "pending_second_factor":
		c.Pending++
	default:
		c.Rejected++
	}
}

func (c Counter) AcceptRate() float64 {
	if c.Visits == 0 {
		return 0
	}
	return float64(c.Accepted) / float64(c.Visits)
}
