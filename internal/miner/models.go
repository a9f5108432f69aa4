package miner

import (
	"strings"

	"github.com/martinsuchenak/asicfleet/pkg/miner"
)

// identity is what a version probe reveals about a device.
type identity struct {
	family   miner.Family
	model    string
	firmware string
}

// familyMarkers is checked in order against the lower-cased version answer.
var familyMarkers = []struct {
	marker string
	family miner.Family
}{
	{"bosminer", miner.FamilyBOSminer},
	{"braiins", miner.FamilyBOSminer},
	{"vnish", miner.FamilyVNish},
	{"whatsminer", miner.FamilyWhatsminer},
	{"btminer", miner.FamilyWhatsminer},
	{"avalon", miner.FamilyAvalon},
	{"innosilicon", miner.FamilyInnosilicon},
	{"goldshell", miner.FamilyGoldshell},
	{"antminer", miner.FamilyAntminer},
	{"bmminer", miner.FamilyAntminer},
}

// classify derives family, model and firmware from a version answer.
func classify(resp apiResponse) identity {
	id := identity{family: miner.FamilyUnknown}

	var blob strings.Builder
	for _, v := range resp.section("VERSION") {
		for k, val := range v {
			blob.WriteString(strings.ToLower(k))
			blob.WriteByte(' ')
			if s, ok := val.(string); ok {
				blob.WriteString(strings.ToLower(s))
				blob.WriteByte(' ')
			}
		}
		if m, ok := text(v, "Type", "PROD", "Model"); ok && id.model == "" {
			id.model = m
		}
		if fw, ok := text(v, "BOSminer+", "BOSminer", "CompileTime", "Firmware", "LVERSION", "Miner"); ok && id.firmware == "" {
			id.firmware = fw
		}
	}
	if msg := resp.message(); msg != nil {
		for k, val := range msg {
			blob.WriteString(strings.ToLower(k))
			blob.WriteByte(' ')
			if s, ok := val.(string); ok {
				blob.WriteString(strings.ToLower(s))
				blob.WriteByte(' ')
			}
		}
		if fw, ok := text(msg, "fw_ver"); ok && id.firmware == "" {
			id.firmware = fw
		}
		// Only btminer answers with a Msg object carrying these keys.
		if _, ok := msg["api_ver"]; ok {
			id.family = miner.FamilyWhatsminer
		}
	}

	if id.family == miner.FamilyUnknown {
		b := blob.String()
		for _, fm := range familyMarkers {
			if strings.Contains(b, fm.marker) {
				id.family = fm.family
				break
			}
		}
	}
	return id
}

// boardLayout is the expected hashboard count and chips per board for a model.
type boardLayout struct {
	match  string
	boards int
	chips  int
}

// boardLayouts is matched by substring against the upper-cased model, most
// specific entries first.
var boardLayouts = []boardLayout{
	{"S19J PRO", 3, 126},
	{"S19 XP", 3, 110},
	{"S19 PRO", 3, 114},
	{"S19J", 3, 114},
	{"S19", 3, 76},
	{"T19", 3, 76},
	{"S17 PRO", 3, 48},
	{"S17+", 3, 65},
	{"S17", 3, 48},
	{"T17", 3, 30},
	{"S9", 3, 63},
	{"T9", 3, 57},
	{"L7", 3, 120},
	{"L3+", 4, 72},
	{"M50", 3, 156},
	{"M30S++", 3, 111},
	{"M30S+", 3, 156},
	{"M30S", 3, 148},
	{"M20S", 3, 66},
	{"A1246", 3, 120},
}

// expectedChips returns the total expected chip count for a model, or nil
// when the model is unknown.
func expectedChips(model string) *int {
	m := strings.ToUpper(model)
	if m == "" {
		return nil
	}
	for _, l := range boardLayouts {
		if strings.Contains(m, l.match) {
			total := l.boards * l.chips
			return &total
		}
	}
	return nil
}
