package portal

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sms-range-relay/internal/domain"
)

var (
	rangeIDRegex  = regexp.MustCompile(`getDetials\('([^']+)'\)`)
	numberPairRe  = regexp.MustCompile(`'([^']+)','([^']+)'`)
	totalCountRe  = regexp.MustCompile(`\((\d+)\)`)
	columnClassRe = regexp.MustCompile(`(^|\s)col(-sm)?-\d+`)
	numberValueRe = regexp.MustCompile(`value="(\d+)"`)
)

// parseRangeSummaries extracts the per-range statistics cards. Counts that
// fail to parse degrade to zero instead of failing the whole snapshot.
func parseRangeSummaries(body []byte) ([]domain.RangeSummary, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.MalformedErrorf("parse statistics page")
	}

	// The portal renders a flash paragraph instead of cards when the
	// window has no SMS at all.
	flash := doc.Find("p#messageFlash")
	if flash.Length() > 0 && strings.Contains(strings.ToLower(flash.Text()), "sms") {
		return nil, nil
	}

	var ranges []domain.RangeSummary
	doc.Find("div.card.card-body.mb-1.pointer").Each(func(_ int, card *goquery.Selection) {
		cols := card.Find("div").FilterFunction(func(_ int, col *goquery.Selection) bool {
			return columnClassRe.MatchString(col.AttrOr("class", ""))
		})
		if cols.Length() < 5 {
			return
		}

		name := strings.TrimSpace(cols.Eq(0).Text())
		if name == "" {
			return
		}

		summary := domain.RangeSummary{
			RangeName: name,
			RangeID:   name,
			Count:     intOrZero(cols.Eq(1).Find("p").First().Text()),
			Paid:      intOrZero(cols.Eq(2).Find("p").First().Text()),
			Unpaid:    intOrZero(cols.Eq(3).Find("p").First().Text()),
			Revenue:   floatOrZero(cols.Eq(4).Find("span.currency_cdr").First().Text()),
		}
		if groups := rangeIDRegex.FindStringSubmatch(card.AttrOr("onclick", "")); len(groups) == 2 {
			summary.RangeID = groups[1]
		}
		ranges = append(ranges, summary)
	})
	return ranges, nil
}

// parseNumberRows extracts the number rows of one range, preserving the
// portal's newest-first order.
func parseNumberRows(body []byte) ([]domain.NumberRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.MalformedErrorf("parse numbers page")
	}

	var numbers []domain.NumberRecord
	doc.Find("div.card.card-body.border-bottom.bg-100.p-2.rounded-0").Each(func(_ int, row *goquery.Selection) {
		col := row.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return columnClassRe.MatchString(s.AttrOr("class", ""))
		}).First()
		groups := numberPairRe.FindStringSubmatch(col.AttrOr("onclick", ""))
		if len(groups) != 3 {
			return
		}
		numbers = append(numbers, domain.NumberRecord{Number: groups[1], NumberID: groups[2]})
	})
	return numbers, nil
}

// parseMessageRows extracts the SMS rows of one number, newest first. The
// revenue cell sits next to the message cell inside the same row; a missing
// revenue degrades to zero.
func parseMessageRows(body []byte) ([]domain.MessageRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.MalformedErrorf("parse messages page")
	}

	var messages []domain.MessageRecord
	doc.Find("div.col-9.col-sm-6.text-center.text-sm-start").Each(func(_ int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Find("p").First().Text())
		if text == "" {
			return
		}
		revenue := cell.Parent().Find("span.currency_cdr").First().Text()
		messages = append(messages, domain.MessageRecord{
			Body:    text,
			Revenue: floatOrZero(revenue),
		})
	})
	return messages, nil
}

// parsePanelOverview extracts the live-panel accordion: the total number of
// active numbers and the claimed ranges with their termination ids.
func parsePanelOverview(body []byte) (domain.PanelOverview, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return domain.PanelOverview{}, domain.MalformedErrorf("parse live panel page")
	}

	overview := domain.PanelOverview{}
	if groups := totalCountRe.FindStringSubmatch(doc.Find("h6.mb-0").First().Text()); len(groups) == 2 {
		overview.TotalNumbers = intOrZero(groups[1])
	}

	doc.Find("div.card.card-secondary").Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a.d-block.w-100").First()
		name := strings.TrimSpace(link.Text())
		id := link.AttrOr("data-id", "")
		if name == "" || id == "" {
			return
		}
		overview.Ranges = append(overview.Ranges, domain.RangeMatch{RangeName: name, TerminationID: id})
	})
	return overview, nil
}

func intOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func floatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
