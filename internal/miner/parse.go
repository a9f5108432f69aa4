package miner

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// number reads the first present key as a float. Firmware reports numbers
// both as JSON numbers and as strings.
func number(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func text(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// hashrateTH reads a hashrate and converts it to TH/s.
func hashrateTH(m map[string]any) (float64, bool) {
	if v, ok := number(m, "GHS 5s", "GHS av"); ok {
		return round2(v / 1000), true
	}
	if v, ok := number(m, "MHS 5s", "MHS 1m", "MHS av"); ok {
		return round2(v / 1e6), true
	}
	return 0, false
}

// applySummary fills hashrate, power and temperature fields from a SUMMARY
// section.
func applySummary(t *miner.Telemetry, resp apiResponse) {
	list := resp.section("SUMMARY")
	if len(list) == 0 {
		return
	}
	s := list[0]

	if v, ok := hashrateTH(s); ok {
		t.Hashrate = &v
	}
	if v, ok := number(s, "Factory GHS"); ok && v > 0 {
		th := round2(v / 1000)
		t.ExpectedHashrate = &th
	}
	if v, ok := number(s, "Power"); ok {
		w := int(v)
		t.Wattage = &w
	}
	if v, ok := number(s, "Power Limit"); ok {
		w := int(v)
		t.WattageLimit = &w
	}
	if v, ok := number(s, "Temperature"); ok {
		t.Temperature = &v
	}
}

// applyStats reads the per-chain counters antminer-style firmware reports in
// its STATS section.
func applyStats(t *miner.Telemetry, resp apiResponse) {
	for _, s := range resp.section("STATS") {
		if v, ok := number(s, "total_rateideal"); ok && t.ExpectedHashrate == nil && v > 0 {
			th := round2(v / 1000)
			t.ExpectedHashrate = &th
		}

		var chains []int
		for k := range s {
			if !strings.HasPrefix(k, "chain_acn") {
				continue
			}
			n, err := strconv.Atoi(strings.TrimPrefix(k, "chain_acn"))
			if err == nil {
				chains = append(chains, n)
			}
		}
		if len(chains) == 0 {
			continue
		}
		sort.Ints(chains)

		var hottest *float64
		boards := make([]miner.Hashboard, 0, len(chains))
		for slot, n := range chains {
			b := miner.Hashboard{Slot: slot}
			if v, ok := number(s, fmt.Sprintf("chain_acn%d", n)); ok {
				c := int(v)
				b.Chips = &c
				b.Missing = c == 0
			}
			if v, ok := number(s, fmt.Sprintf("chain_rate%d", n)); ok {
				th := round2(v / 1000)
				b.Hashrate = &th
			}
			if v, ok := number(s, fmt.Sprintf("temp2_%d", n), fmt.Sprintf("temp_chip%d", n)); ok && v > 0 {
				b.Temperature = &v
				if hottest == nil || v > *hottest {
					hottest = &v
				}
			}
			boards = append(boards, b)
		}
		t.Hashboards = boards
		if t.Temperature == nil && hottest != nil {
			t.Temperature = hottest
		}
		return
	}
}

// applyDevs reads per-board entries from a DEVS section, used by whatsminer
// and bosminer.
func applyDevs(t *miner.Telemetry, resp apiResponse) {
	if len(t.Hashboards) > 0 {
		return
	}
	devs := resp.section("DEVS")
	boards := make([]miner.Hashboard, 0, len(devs))
	for i, d := range devs {
		b := miner.Hashboard{Slot: i}
		if v, ok := number(d, "Slot", "ASC"); ok {
			b.Slot = int(v)
		}
		if v, ok := number(d, "Effective Chips"); ok {
			c := int(v)
			b.Chips = &c
			b.Missing = c == 0
		}
		if v, ok := hashrateTH(d); ok {
			b.Hashrate = &v
		}
		if v, ok := number(d, "Temperature", "Chip Temp Avg"); ok {
			b.Temperature = &v
		}
		boards = append(boards, b)
	}
	if len(boards) > 0 {
		t.Hashboards = boards
	}
}

// applyPools groups POOLS entries by their Group index. Firmware that does
// not report groups gets a single group.
func applyPools(t *miner.Telemetry, resp apiResponse) {
	type group struct {
		idx   int
		quota int
		pools []miner.Pool
	}
	byIdx := map[int]*group{}
	var order []int

	for _, p := range resp.section("POOLS") {
		url, ok := text(p, "URL")
		if !ok {
			continue
		}
		user, _ := text(p, "User")

		idx := 0
		if v, ok := number(p, "Group"); ok {
			idx = int(v)
		}
		g, ok := byIdx[idx]
		if !ok {
			g = &group{idx: idx, quota: 1}
			if v, ok := number(p, "Quota"); ok && v > 0 {
				g.quota = int(v)
			}
			byIdx[idx] = g
			order = append(order, idx)
		}
		g.pools = append(g.pools, miner.Pool{URL: url, User: user})
	}

	sort.Ints(order)
	groups := make([]miner.PoolGroup, 0, len(order))
	for _, idx := range order {
		g := byIdx[idx]
		groups = append(groups, miner.PoolGroup{Quota: g.quota, Pools: g.pools})
	}
	t.PoolGroups = groups
}

// parseErrorCodes reads the whatsminer get_error_code answer. Entries are
// either {"<code>": "<time>"} objects or bare code strings.
func parseErrorCodes(resp apiResponse) []miner.Error {
	msg := resp.message()
	raw, ok := msg["error_code"].([]any)
	if !ok {
		return []miner.Error{}
	}

	out := make([]miner.Error, 0, len(raw))
	add := func(code string) {
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return
		}
		out = append(out, miner.Error{Code: n, Message: errorMessage(n)})
	}
	for _, e := range raw {
		switch x := e.(type) {
		case map[string]any:
			for code := range x {
				add(code)
			}
		case string:
			add(x)
		case float64:
			out = append(out, miner.Error{Code: int(x), Message: errorMessage(int(x))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

var whatsminerErrors = map[int]string{
	110:  "Intake fan speed error.",
	111:  "Exhaust fan speed error.",
	120:  "Intake fan speed error. Fan speed deviates by more than 2000.",
	121:  "Exhaust fan speed error. Fan speed deviates by more than 2000.",
	130:  "Intake fan speed error. Fan speed deviates by more than 3000.",
	131:  "Exhaust fan speed error. Fan speed deviates by more than 3000.",
	200:  "Power probing error. No power found.",
	201:  "Power supply and configuration file don't match.",
	202:  "Power output voltage error.",
	203:  "Power protecting due to high environment temperature.",
	204:  "Power current protecting due to high environment temperature.",
	205:  "Power current error.",
	206:  "Power input low voltage error.",
	207:  "Power input current protecting due to bad power input.",
	300:  "Temperature sensor error.",
	320:  "Hashboard temperature sensor error.",
	329:  "Control board temperature sensor communication error.",
	350:  "Hashboard temperature too high.",
	360:  "Hashboard temperature too low.",
	410:  "Hashboard chip count mismatch.",
	530:  "Hashboard not found.",
	2010: "All pools are disabled.",
	2020: "Pool connection failed.",
	5070: "Water velocity is abnormal.",
	8410: "Software version error.",
}

func errorMessage(code int) string {
	if msg, ok := whatsminerErrors[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown error type (%d).", code)
}
