package portal

import (
	"errors"
	"testing"

	"sms-range-relay/internal/domain"
)

const statsPage = `
<div class="wrapper">
  <div class="card card-body mb-1 pointer" onclick="getDetials('rng-101')">
    <div class="row">
      <div class="col-sm-4">US-Verizon</div>
      <div class="col-sm-2"><p>7</p></div>
      <div class="col-sm-2"><p>5</p></div>
      <div class="col-sm-2"><p>2</p></div>
      <div class="col-sm-2"><span class="currency_cdr">0.35</span></div>
    </div>
  </div>
  <div class="card card-body mb-1 pointer">
    <div class="row">
      <div class="col-sm-4">UK-Orange</div>
      <div class="col-sm-2"><p>n/a</p></div>
      <div class="col-sm-2"><p></p></div>
      <div class="col-sm-2"><p>1</p></div>
      <div class="col-sm-2"></div>
    </div>
  </div>
</div>`

func TestParseRangeSummaries(t *testing.T) {
	ranges, err := parseRangeSummaries([]byte(statsPage))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 ranges, got %d", len(ranges))
	}

	first := ranges[0]
	if first.RangeName != "US-Verizon" || first.RangeID != "rng-101" {
		t.Fatalf("unexpected first range: %+v", first)
	}
	if first.Count != 7 || first.Paid != 5 || first.Unpaid != 2 {
		t.Fatalf("unexpected counters: %+v", first)
	}
	if first.Revenue != 0.35 {
		t.Fatalf("unexpected revenue: %v", first.Revenue)
	}

	// Unparseable counters degrade to zero, id falls back to the name.
	second := ranges[1]
	if second.RangeID != "UK-Orange" {
		t.Fatalf("expected id fallback to name, got %q", second.RangeID)
	}
	if second.Count != 0 || second.Paid != 0 || second.Revenue != 0 {
		t.Fatalf("expected degraded counters, got %+v", second)
	}
}

func TestParseRangeSummariesNoSMS(t *testing.T) {
	page := `<div><p id="messageFlash">You have no SMS in this period.</p></div>`
	ranges, err := parseRangeSummaries([]byte(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 0 {
		t.Fatalf("expected no ranges, got %d", len(ranges))
	}
}

func TestParseNumberRows(t *testing.T) {
	page := `
<div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col-sm-4" onclick="getSMS('14155550101','777')">+1 415 555 0101</div>
  </div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col-sm-4" onclick="getSMS('14155550102','778')">+1 415 555 0102</div>
  </div>
  <div class="card card-body border-bottom bg-100 p-2 rounded-0">
    <div class="col-sm-4">no onclick here</div>
  </div>
</div>`
	numbers, err := parseNumberRows([]byte(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(numbers) != 2 {
		t.Fatalf("expected 2 numbers, got %d", len(numbers))
	}
	if numbers[0].Number != "14155550101" || numbers[0].NumberID != "777" {
		t.Fatalf("unexpected first number: %+v", numbers[0])
	}
	if numbers[1].Number != "14155550102" {
		t.Fatalf("unexpected second number: %+v", numbers[1])
	}
}

func TestParseMessageRows(t *testing.T) {
	page := `
<div>
  <div class="row">
    <div class="col-9 col-sm-6 text-center text-sm-start"><p>Your code is 111111</p></div>
    <div class="col-3 col-sm-2 text-center text-sm-start"><span class="currency_cdr">0.05</span></div>
  </div>
  <div class="row">
    <div class="col-9 col-sm-6 text-center text-sm-start"><p>Your code is 222222</p></div>
    <div class="col-3 col-sm-2 text-center text-sm-start"></div>
  </div>
</div>`
	messages, err := parseMessageRows([]byte(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Body != "Your code is 111111" || messages[0].Revenue != 0.05 {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Revenue != 0 {
		t.Fatalf("missing revenue must degrade to zero, got %v", messages[1].Revenue)
	}
}

func TestParsePanelOverview(t *testing.T) {
	page := `
<div>
  <h6 class="mb-0">Active Numbers (42)</h6>
  <div class="card card-secondary">
    <a class="d-block w-100" data-id="555">US-Verizon</a>
  </div>
  <div class="card card-secondary">
    <a class="d-block w-100">Broken entry without id</a>
  </div>
</div>`
	overview, err := parsePanelOverview([]byte(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overview.TotalNumbers != 42 {
		t.Fatalf("expected 42 numbers, got %d", overview.TotalNumbers)
	}
	if len(overview.Ranges) != 1 {
		t.Fatalf("expected 1 range, got %d", len(overview.Ranges))
	}
	if overview.Ranges[0].TerminationID != "555" {
		t.Fatalf("unexpected termination id: %q", overview.Ranges[0].TerminationID)
	}
}

func TestExtractLoginToken(t *testing.T) {
	page := `<form><input type="hidden" name="_token" value="tok-abc"></form>`
	token, err := extractLoginToken([]byte(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "tok-abc" {
		t.Fatalf("unexpected token: %q", token)
	}

	_, err = extractLoginToken([]byte(`<form></form>`))
	if !errors.Is(err, domain.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestExtractCSRFMeta(t *testing.T) {
	page := `<head><meta name="csrf-token" content="csrf-xyz"></head>`
	token, err := extractCSRFMeta([]byte(page))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "csrf-xyz" {
		t.Fatalf("unexpected token: %q", token)
	}
}
