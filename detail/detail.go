package detail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const BaseURL = "https://www.peterpanz.com"

// maxDescriptionLength caps the readability fallback, which extracts whole
// pages rather than a single block.
const maxDescriptionLength = 4000

var (
	whitespaceRe = regexp.MustCompile(`[\s\x{200B}]+`)
	digitsRe     = regexp.MustCompile(`\d+`)
)

// Scraper extracts enrichment fields from listing detail pages. Every field
// is best effort: the page embeds a JSON blob (aptInfo), OpenGraph metadata
// and several generations of markup, and any of them may be missing.
type Scraper struct {
	client  *http.Client
	baseURL string
}

// NewScraper creates a Scraper with the given HTTP client.
func NewScraper(client *http.Client) *Scraper {
	if client == nil {
		client = http.DefaultClient
	}
	return &Scraper{client: client, baseURL: BaseURL}
}

// NewScraperWithBaseURL creates a Scraper against a non-default base URL.
func NewScraperWithBaseURL(client *http.Client, baseURL string) *Scraper {
	s := NewScraper(client)
	s.baseURL = baseURL
	return s
}

// Fetch downloads the detail page for a listing and returns the parsed_*
// fields it could extract. Fields that cannot be read are absent from the
// map rather than set to zero values.
func (s *Scraper) Fetch(ctx context.Context, id string) (map[string]any, error) {
	pageURL := fmt.Sprintf("%s/house/%s", s.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating detail request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching detail page %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("detail page %s returned status %d", id, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading detail page %s: %w", id, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing detail page %s: %w", id, err)
	}

	fields := map[string]any{}
	apt := extractAptInfo(doc)

	if lat := metaContent(doc, "og:latitude"); lat != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(lat), 64); err == nil {
			fields["parsed_latitude"] = f
		} else {
			slog.Warn("unreadable latitude meta", "id", id, "value", lat)
		}
	}
	if lng := metaContent(doc, "og:longitude"); lng != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(lng), 64); err == nil {
			fields["parsed_longitude"] = f
		} else {
			slog.Warn("unreadable longitude meta", "id", id, "value", lng)
		}
	}
	if title := metaContent(doc, "og:title"); title != "" {
		fields["parsed_title"] = title
	}

	description := descriptionFromDiv(doc)
	if description == "" {
		description = descriptionFromAptInfo(apt)
	}
	if description == "" {
		description = strings.TrimSpace(metaContent(doc, "og:description"))
	}
	if description == "" {
		description = descriptionFromReadability(body, pageURL)
	}
	if description != "" {
		fields["parsed_description"] = description
	}

	bathroom := apt["bathroom_count"]
	if bathroom == nil {
		if info, ok := apt["info"].(map[string]any); ok {
			bathroom = info["bathroom_count"]
		}
	}
	if truthy(bathroom) {
		fields["parsed_bathroom_count"] = bathroom
	}

	switch apt["user_type"] {
	case "agent":
		fields["parsed_user_type"] = "중개사"
	case "user":
		fields["parsed_user_type"] = "세입자"
	}

	// Direct-deal pages name the seller in the JSON blob.
	if fields["parsed_user_type"] != "중개사" {
		if name := stringValue(apt["user_name"]); name != "" {
			fields["parsed_agent_name"] = name
		}
		contact := stringValue(apt["phone"])
		if contact == "" {
			contact = stringValue(apt["user_phone"])
		}
		if contact != "" {
			fields["parsed_agent_contact"] = contact
		}
	}

	agent := extractAgent(doc, apt)
	if agent.userType != "" {
		fields["parsed_user_type"] = agent.userType
	}
	if agent.name != "" && stringValue(fields["parsed_agent_name"]) == "" {
		fields["parsed_agent_name"] = agent.name
	}
	if agent.contact != "" && stringValue(fields["parsed_agent_contact"]) == "" {
		fields["parsed_agent_contact"] = agent.contact
	}
	if agent.office != "" {
		fields["parsed_agent_office"] = agent.office
	}

	if approval := tableValue(doc, "사용승인일"); approval != "" {
		fields["parsed_approval_date"] = approval
	}

	if floorText := tableValue(doc, "해당층/전체층"); floorText != "" {
		if current, total, ok := strings.Cut(floorText, "/"); ok {
			fields["parsed_floor"] = strings.TrimSpace(current)
			total = strings.TrimSpace(total)
			if m := digitsRe.FindString(total); m != "" {
				n, _ := strconv.Atoi(m)
				fields["parsed_total_floor"] = n
			} else {
				fields["parsed_total_floor"] = total
			}
		} else {
			fields["parsed_floor"] = floorText
		}
	}

	if options := extractOptions(doc); len(options) > 0 {
		fields["parsed_options"] = options
		fields["parsed_options_string"] = strings.Join(options, ", ")
	}

	return fields, nil
}

// extractAptInfo pulls the "var aptInfo = {...};" JSON blob out of the
// page's script tags. Returns nil when no script carries it.
func extractAptInfo(doc *goquery.Document) map[string]any {
	var apt map[string]any
	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		text := script.Text()
		if !strings.Contains(text, "var aptInfo = {") {
			return true
		}
		payload := strings.SplitN(text, "var aptInfo = ", 2)[1]
		if idx := strings.LastIndex(payload, "};"); idx != -1 {
			payload = payload[:idx+1]
		}
		if err := json.Unmarshal([]byte(payload), &apt); err != nil {
			slog.Warn("aptInfo block found but not parseable", "error", err)
			return true
		}
		return false
	})
	return apt
}

func metaContent(doc *goquery.Document, property string) string {
	return doc.Find(fmt.Sprintf("meta[property=%q]", property)).AttrOr("content", "")
}

// descriptionFromDiv rebuilds the listing description from the
// #description-text block, turning <br> into line breaks and keeping the
// text of inline tags such as emoji spans.
func descriptionFromDiv(doc *goquery.Document) string {
	sel := doc.Find("div#description-text")
	if sel.Length() == 0 {
		return ""
	}

	var lines []string
	var current strings.Builder
	sel.Contents().Each(func(_ int, node *goquery.Selection) {
		if goquery.NodeName(node) == "br" {
			lines = append(lines, current.String())
			current.Reset()
			return
		}
		current.WriteString(node.Text())
	})
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}

	return normalizeWhitespace(strings.Join(lines, "\n"))
}

func descriptionFromAptInfo(apt map[string]any) string {
	raw := stringValue(apt["description"])
	if raw == "" {
		raw = stringValue(apt["content"])
	}
	if raw == "" {
		if info, ok := apt["info"].(map[string]any); ok {
			raw = stringValue(info["description"])
			if raw == "" {
				raw = stringValue(info["subject"])
			}
		}
	}
	if raw == "" {
		return ""
	}

	// The blob may itself contain markup.
	frag, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return normalizeWhitespace(raw)
	}
	frag.Find("br").ReplaceWithHtml("\n")
	return normalizeWhitespace(frag.Text())
}

func descriptionFromReadability(body []byte, pageURL string) string {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > maxDescriptionLength {
		text = text[:maxDescriptionLength]
	}
	return normalizeWhitespace(text)
}

// normalizeWhitespace collapses runs of whitespace and zero-width spaces to
// a single space. Zero-width joiners survive so composed emoji stay intact.
func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

type agentInfo struct {
	name     string
	contact  string
	office   string
	userType string
}

// extractAgent resolves who listed the property: the aptInfo blob first,
// then the sidebar profile, then the agency table, then legacy class names.
func extractAgent(doc *goquery.Document, apt map[string]any) agentInfo {
	var agent agentInfo

	switch apt["user_type"] {
	case "agent":
		agent.userType = "중개사"
	case "user":
		agent.userType = "세입자"
	}

	if agent.userType == "중개사" {
		agent.name = stringValue(apt["agent_name"])
		agent.contact = stringValue(apt["agent_contact"])
		if agent.contact == "" {
			agent.contact = stringValue(apt["phone"])
		}
		agent.office = stringValue(apt["company_name"])
	} else {
		agent.name = stringValue(apt["user_name"])
		if agent.name == "" {
			agent.name = stringValue(apt["author_name"])
		}
		agent.contact = stringValue(apt["user_phone"])
		if agent.contact == "" {
			agent.contact = stringValue(apt["phone"])
		}
		if agent.name == "" {
			if author, ok := apt["author"].(map[string]any); ok {
				agent.name = stringValue(author["name"])
			}
		}
	}

	if agent.name == "" || agent.contact == "" {
		if section := doc.Find(".info-section.section-4").First(); section.Length() > 0 {
			if name := strings.TrimSpace(section.Find(".profile-info strong").First().Text()); name != "" {
				agent.name = name
			}
			if detail := strings.TrimSpace(section.Find(".profile-info em").First().Text()); detail != "" && agent.userType == "" {
				agent.userType = "세입자"
			}
		}
	}

	if (agent.userType == "중개사" || agent.userType == "") && (agent.name == "" || agent.office == "") {
		if agencyName := doc.Find("div > p.agency-name").First(); agencyName.Length() > 0 {
			container := agencyName.Parent()
			if office := strings.TrimSpace(container.Find("p.agency-name").First().Text()); office != "" {
				agent.office = office
			}
			container.Find(".agency-info ul li").Each(func(_ int, item *goquery.Selection) {
				label := strings.TrimSpace(item.Find("span.th").First().Text())
				value := strings.TrimSpace(item.Find("span.td").First().Text())
				if value == "" {
					return
				}
				switch label {
				case "대표자":
					agent.name = value
				case "대표번호":
					agent.contact = value
				}
			})
			if agent.name != "" || agent.office != "" {
				agent.userType = "중개사"
			}
		} else if fallback := doc.Find(".agent-info, .broker-info, .realtor-info").First(); fallback.Length() > 0 {
			if v := strings.TrimSpace(fallback.Find(".agent-name, .name, strong").First().Text()); v != "" {
				agent.name = v
			}
			if v := strings.TrimSpace(fallback.Find(".agent-contact, .contact, .phone").First().Text()); v != "" {
				agent.contact = v
			}
			if v := strings.TrimSpace(fallback.Find(".agent-office, .office, .company").First().Text()); v != "" {
				agent.office = v
			}
			if agent.name != "" || agent.office != "" {
				agent.userType = "중개사"
			}
		}
	}

	if agent.userType == "" {
		agent.userType = "정보 없음"
	}
	return agent
}

// tableValue reads the detail table: finds the header cell containing label
// and returns the text of its value cell.
func tableValue(doc *goquery.Document, label string) string {
	var value string
	doc.Find("div.detail-table-th").EachWithBreak(func(_ int, th *goquery.Selection) bool {
		if !strings.Contains(th.Text(), label) {
			return true
		}
		td := th.NextAllFiltered("div.detail-table-td").First()
		if td.Length() > 0 {
			value = strings.TrimSpace(td.Text())
		}
		return false
	})
	return value
}

// extractOptions walks the markup generations the site has used for the
// option list, newest first, and returns the first hit.
func extractOptions(doc *goquery.Document) []string {
	var options []string
	appendText := func(s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			options = append(options, t)
		}
	}

	if table := doc.Find(".detail-option-table").First(); table.Length() > 0 {
		table.Find("dl dd").Each(func(_ int, item *goquery.Selection) {
			appendText(item)
		})
		return options
	}

	if section := doc.Find(".option-section, .facility-section, .additional-option").First(); section.Length() > 0 {
		section.Find("li, .option-item").Each(func(_ int, item *goquery.Selection) {
			appendText(item)
		})
		return options
	}

	if table := doc.Find(".option-table, table.options").First(); table.Length() > 0 {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			row.Find("td, th").Each(func(_ int, col *goquery.Selection) {
				t := strings.TrimSpace(col.Text())
				if t != "" && t != "옵션" && t != "시설" && t != "기타" {
					options = append(options, t)
				}
			})
		})
		if len(options) > 0 {
			return options
		}
	}

	doc.Find(".options, .facility, .amenities, .option-list, .option-items").EachWithBreak(func(_ int, container *goquery.Selection) bool {
		container.Find("li, .item, span, div").Each(func(_ int, item *goquery.Selection) {
			t := strings.TrimSpace(item.Text())
			if t != "" && len([]rune(t)) < 50 {
				options = append(options, t)
			}
		})
		return len(options) == 0
	})

	return options
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case bool:
		return t
	default:
		return true
	}
}
