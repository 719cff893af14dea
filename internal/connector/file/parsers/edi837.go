package parsers

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// segment is one ISA/GS/ST/.../SE line of an X12 interchange, split on the
// element separator with the segment ID peeled off as elements[0] would be.
type segment struct {
	id       string
	elements []string
}

func parseSegment(line, elementSep string) segment {
	parts := strings.Split(strings.TrimSpace(line), elementSep)
	s := segment{id: parts[0]}
	if len(parts) > 1 {
		s.elements = parts[1:]
	}
	return s
}

func (s segment) get(index int) string {
	if index >= 0 && index < len(s.elements) {
		return s.elements[index]
	}
	return ""
}

// claimLine is a service line within a claim (loop 2400).
type claimLine map[string]any

// claim mirrors the flattened fields pulled out of an 837P/837I claim loop.
type claim struct {
	claimID               string
	patientControlNumber  string
	claimType             string
	patientID             string
	patientFirstName      string
	patientLastName       string
	patientDOB            string
	patientGender         string
	patientAddress        string
	patientCity           string
	patientState          string
	patientZip            string
	subscriberID          string
	subscriberFirstName   string
	subscriberLastName    string
	subscriberRelationship string
	billingNPI            string
	billingName           string
	billingTaxonomy       string
	renderingNPI          string
	renderingName         string
	facilityNPI           string
	facilityName          string
	totalCharge           float64
	placeOfService        string
	frequencyCode         string
	admissionDate         string
	dischargeDate         string
	statementFromDate     string
	statementToDate       string
	diagnosisCodes        []string
	principalDiagnosis    string
	serviceLines          []claimLine
	payerID               string
	payerName             string
}

func (c *claim) toRecord() map[string]any {
	diagCodes := make([]any, len(c.diagnosisCodes))
	for i, d := range c.diagnosisCodes {
		diagCodes[i] = d
	}
	lines := make([]any, len(c.serviceLines))
	for i, l := range c.serviceLines {
		lines[i] = map[string]any(l)
	}
	return map[string]any{
		"claim_id":                c.claimID,
		"patient_control_number":  c.patientControlNumber,
		"claim_type":              c.claimType,
		"patient_id":              c.patientID,
		"patient_first_name":      c.patientFirstName,
		"patient_last_name":       c.patientLastName,
		"patient_name":            strings.TrimSpace(c.patientFirstName + " " + c.patientLastName),
		"patient_dob":             c.patientDOB,
		"patient_gender":          c.patientGender,
		"patient_address":         c.patientAddress,
		"patient_city":            c.patientCity,
		"patient_state":           c.patientState,
		"patient_zip":             c.patientZip,
		"subscriber_id":           c.subscriberID,
		"subscriber_name":         strings.TrimSpace(c.subscriberFirstName + " " + c.subscriberLastName),
		"subscriber_relationship": c.subscriberRelationship,
		"billing_npi":             c.billingNPI,
		"billing_name":            c.billingName,
		"billing_taxonomy":        c.billingTaxonomy,
		"rendering_npi":           c.renderingNPI,
		"rendering_name":          c.renderingName,
		"facility_npi":            c.facilityNPI,
		"facility_name":           c.facilityName,
		"total_charge":            c.totalCharge,
		"place_of_service":        c.placeOfService,
		"frequency_code":          c.frequencyCode,
		"admission_date":          c.admissionDate,
		"discharge_date":          c.dischargeDate,
		"statement_from_date":     c.statementFromDate,
		"statement_to_date":       c.statementToDate,
		"diagnosis_codes":         diagCodes,
		"principal_diagnosis":     c.principalDiagnosis,
		"service_lines":           lines,
		"payer_id":                c.payerID,
		"payer_name":              c.payerName,
	}
}

var isaPattern = regexp.MustCompile(`ISA.{103}`)

// EDI837 parses ANSI X12 837 Professional and Institutional claim files
// using a small hierarchical-loop state machine, the same segment walk the
// originating system used (loops 2000A/B/C billing/subscriber/patient,
// 2300 claim, 2400 service line).
type EDI837 struct {
	ElementSep      string
	SegmentTerm     string
	SubelementSep   string
}

// NewEDI837 builds a parser with X12's conventional separators; Parse
// re-detects them from the file's own ISA segment when present.
func NewEDI837() *EDI837 {
	return &EDI837{ElementSep: "*", SegmentTerm: "~", SubelementSep: ":"}
}

// Parse reads up to limit claims (0 means unlimited) from path.
func (p *EDI837) Parse(path string, limit int) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(raw)
	p.detectSeparators(content)

	segments := p.splitSegments(content)

	var out []map[string]any
	for c := range p.parseSegments(segments) {
		out = append(out, c.toRecord())
		if limit > 0 && len(out) >= limit {
			return out, nil
		}
	}
	return out, nil
}

func (p *EDI837) detectSeparators(content string) {
	loc := isaPattern.FindStringIndex(content)
	if loc == nil {
		return
	}
	isa := content[loc[0]:loc[1]]
	p.ElementSep = string(isa[3])
	p.SubelementSep = string(isa[104])
	if len(content) > loc[1] {
		p.SegmentTerm = string(content[loc[1]])
	}
}

func (p *EDI837) splitSegments(content string) []segment {
	content = strings.NewReplacer("\n", "", "\r", "").Replace(content)
	lines := strings.Split(content, p.SegmentTerm)

	segments := make([]segment, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			segments = append(segments, parseSegment(line, p.ElementSep))
		}
	}
	return segments
}

// parseSegments walks the segment stream yielding one claim per CLM...SE
// span through a channel, mirroring the generator the source parser used.
func (p *EDI837) parseSegments(segments []segment) <-chan *claim {
	out := make(chan *claim)
	go func() {
		defer close(out)

		var current *claim
		currentLoop := ""
		var line claimLine
		claimType := "837P"

		flushLine := func() {
			if current != nil && line != nil {
				current.serviceLines = append(current.serviceLines, line)
			}
			line = nil
		}

		for _, seg := range segments {
			switch seg.id {
			case "GS":
				switch seg.get(0) {
				case "HC":
					claimType = "837P"
				case "HI":
					claimType = "837I"
				}

			case "HL":
				switch seg.get(2) {
				case "20":
					currentLoop = "2000A"
				case "22":
					currentLoop = "2000B"
				case "23":
					currentLoop = "2000C"
				}

			case "NM1":
				p.parseNM1(seg, seg.get(0), current)

			case "REF":
				if current != nil {
					if currentLoop == "2400" && seg.get(0) == "6R" {
						if line == nil {
							line = claimLine{}
						}
						line["line_item_control_number"] = seg.get(1)
					} else if seg.get(0) == "1L" {
						current.subscriberID = seg.get(1)
					}
				}

			case "DMG":
				if current != nil && (currentLoop == "2000B" || currentLoop == "2000C") {
					current.patientDOB = parseEDIDate(seg.get(1))
					current.patientGender = genderName(seg.get(2))
				}

			case "N3":
				if current != nil && (currentLoop == "2000B" || currentLoop == "2000C") {
					current.patientAddress = seg.get(0)
				}

			case "N4":
				if current != nil && (currentLoop == "2000B" || currentLoop == "2000C") {
					current.patientCity = seg.get(0)
					current.patientState = seg.get(1)
					current.patientZip = seg.get(2)
				}

			case "CLM":
				if current != nil {
					flushLine()
					out <- current
				}

				current = &claim{claimType: claimType}
				current.patientControlNumber = seg.get(0)
				current.claimID = seg.get(0)
				current.totalCharge = parseFloatOr(seg.get(1), 0)

				facilityInfo := seg.get(4)
				if facilityInfo != "" && strings.Contains(facilityInfo, p.SubelementSep) {
					parts := strings.Split(facilityInfo, p.SubelementSep)
					current.placeOfService = parts[0]
					if len(parts) > 1 {
						current.frequencyCode = parts[1]
					}
				} else {
					current.placeOfService = facilityInfo
				}

				currentLoop = "2300"
				line = nil

			case "HI":
				if current != nil {
					for _, element := range seg.elements {
						if !strings.Contains(element, p.SubelementSep) {
							continue
						}
						parts := strings.SplitN(element, p.SubelementSep, 2)
						qual, code := parts[0], parts[1]
						if code == "" {
							continue
						}
						current.diagnosisCodes = append(current.diagnosisCodes, code)
						if qual == "ABK" || qual == "BK" {
							current.principalDiagnosis = code
						}
					}
				}

			case "DTP":
				if current == nil {
					continue
				}
				qual := seg.get(0)
				value := seg.get(2)
				date := parseEDIDate(value)
				switch {
				case qual == "435" && currentLoop != "2400":
					current.admissionDate = date
				case qual == "096":
					current.dischargeDate = date
				case qual == "434":
					current.statementFromDate = date
				case qual == "472" && currentLoop == "2400":
					if line == nil {
						line = claimLine{}
					}
					if strings.Contains(value, "-") {
						dates := strings.SplitN(value, "-", 2)
						line["service_from_date"] = parseEDIDate(dates[0])
						to := dates[0]
						if len(dates) > 1 {
							to = dates[1]
						}
						line["service_to_date"] = parseEDIDate(to)
					} else {
						line["service_date"] = date
					}
				}

			case "SV1":
				if current == nil {
					continue
				}
				flushLine()
				line = claimLine{}
				currentLoop = "2400"

				procInfo := seg.get(0)
				if strings.Contains(procInfo, p.SubelementSep) {
					parts := strings.Split(procInfo, p.SubelementSep)
					line["procedure_code"] = partOr(parts, 1)
					line["modifier_1"] = partOr(parts, 2)
					line["modifier_2"] = partOr(parts, 3)
					line["modifier_3"] = partOr(parts, 4)
					line["modifier_4"] = partOr(parts, 5)
				} else {
					line["procedure_code"] = procInfo
				}

				line["charge_amount"] = parseFloatOr(seg.get(1), 0)
				line["units"] = orDefault(seg.get(3), "1")
				line["place_of_service"] = seg.get(4)

				if pointer := seg.get(6); pointer != "" {
					line["diagnosis_pointers"] = strings.Split(pointer, p.SubelementSep)
				}

			case "SV2":
				if current == nil {
					continue
				}
				flushLine()
				line = claimLine{}
				currentLoop = "2400"

				line["revenue_code"] = seg.get(0)
				procInfo := seg.get(1)
				if strings.Contains(procInfo, p.SubelementSep) {
					parts := strings.Split(procInfo, p.SubelementSep)
					line["procedure_code"] = partOr(parts, 1)
				} else {
					line["procedure_code"] = procInfo
				}
				line["charge_amount"] = parseFloatOr(seg.get(2), 0)
				line["units"] = orDefault(seg.get(4), "1")

			case "SE":
				if current != nil {
					flushLine()
					out <- current
					current = nil
					line = nil
				}
			}
		}
	}()
	return out
}

func (p *EDI837) parseNM1(seg segment, entityID string, c *claim) {
	if c == nil {
		return
	}
	entityType := seg.get(1)
	lastName := seg.get(2)
	firstName := seg.get(3)
	idQual := seg.get(7)
	idValue := seg.get(8)

	var name string
	if entityType == "1" {
		name = strings.TrimSpace(firstName + " " + lastName)
	} else {
		name = lastName
	}

	switch entityID {
	case "85":
		c.billingName = name
		if idQual == "XX" {
			c.billingNPI = idValue
		}
	case "82":
		c.renderingName = name
		if idQual == "XX" {
			c.renderingNPI = idValue
		}
	case "77":
		c.facilityName = name
		if idQual == "XX" {
			c.facilityNPI = idValue
		}
	case "IL":
		c.subscriberFirstName = firstName
		c.subscriberLastName = lastName
		if idQual == "MI" {
			c.subscriberID = idValue
		}
	case "QC":
		c.patientFirstName = firstName
		c.patientLastName = lastName
		c.patientID = idValue
	case "PR":
		c.payerName = name
		c.payerID = idValue
	}
}

func parseEDIDate(s string) string {
	if len(s) < 8 {
		return s
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return s
	}
	return t.Format("2006-01-02")
}

func genderName(code string) string {
	switch code {
	case "M":
		return "Male"
	case "F":
		return "Female"
	default:
		return code
	}
}

func parseFloatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func partOr(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}
