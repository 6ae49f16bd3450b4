package modhub

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
	"time"

	"farmhand/core/utils"
	"farmhand/feature/normalizer"

	xmlpath "gopkg.in/xmlpath.v2"
)

// XPath expressions for the upstream HTML. Every extraction returns a
// tagged outcome so upstream format drift degrades to recorded failures.
var (
	listingItemPath    = xmlpath.MustCompile(`//div[contains(@class,"mod-item")]`)
	listingLinkPath    = xmlpath.MustCompile(`.//a[contains(@class,"button-buy")]/@href`)
	listingUpdatedPath = xmlpath.MustCompile(`.//span[contains(@class,"mod-date")]/@data-updated`)

	detailTitlePath    = xmlpath.MustCompile(`//h2[contains(@class,"title-label")]`)
	detailRowPath      = xmlpath.MustCompile(`//div[contains(@class,"table-game-info")]//div[contains(@class,"table-row")]`)
	detailCellPath     = xmlpath.MustCompile(`./div[contains(@class,"table-cell")]`)
	detailDownloadPath = xmlpath.MustCompile(`//a[contains(@class,"button-buy")]/@href`)
)

// Upstream detail table labels.
const (
	labelAuthor   = "Author"
	labelCategory = "Category"
	labelSize     = "Size"
	labelVersion  = "Version"
	labelReleased = "Released"
	labelPlatform = "Platform"
)

// ListingEntry is one mod reference on a listing page.
type ListingEntry struct {
	Slug      string
	UpdatedAt time.Time
}

// DetailPage is the extracted content of one mod detail page.
type DetailPage struct {
	Title       string
	Info        map[string]string
	DownloadURL string
}

// ParseListing extracts the mod entries of one listing page, newest first
// as the upstream renders them. An unparseable page or item yields an
// UpstreamFormatChanged error.
func ParseListing(body []byte, pageURL string) ([]ListingEntry, error) {
	doc, err := xmlpath.ParseHTML(bytes.NewReader(body))
	if err != nil {
		return nil, formatChanged(pageURL, "parse listing html: %v", err)
	}

	var entries []ListingEntry
	iter := listingItemPath.Iter(doc)
	for iter.Next() {
		item := iter.Node()

		href, ok := listingLinkPath.String(item)
		if !ok {
			return nil, formatChanged(pageURL, "mod item without detail link")
		}
		slug, err := slugFromHref(href)
		if err != nil {
			return nil, formatChanged(pageURL, "detail link %q: %v", href, err)
		}

		epoch, ok := listingUpdatedPath.String(item)
		if !ok {
			return nil, formatChanged(pageURL, "mod item %q without update timestamp", slug)
		}
		secs, err := strconv.ParseInt(strings.TrimSpace(epoch), 10, 64)
		if err != nil {
			return nil, formatChanged(pageURL, "mod item %q timestamp %q: %v", slug, epoch, err)
		}

		entries = append(entries, ListingEntry{
			Slug:      slug,
			UpdatedAt: time.Unix(secs, 0).UTC(),
		})
	}

	return entries, nil
}

// ParseDetail extracts the title, info table and download link of a mod
// detail page.
func ParseDetail(body []byte, pageURL string) (*DetailPage, error) {
	doc, err := xmlpath.ParseHTML(bytes.NewReader(body))
	if err != nil {
		return nil, formatChanged(pageURL, "parse detail html: %v", err)
	}

	title, ok := detailTitlePath.String(doc)
	if !ok || strings.TrimSpace(title) == "" {
		return nil, formatChanged(pageURL, "detail page without title")
	}

	page := &DetailPage{
		Title: strings.TrimSpace(title),
		Info:  map[string]string{},
	}

	rows := detailRowPath.Iter(doc)
	for rows.Next() {
		cells := detailCellPath.Iter(rows.Node())
		var key, value string
		if cells.Next() {
			key = strings.TrimSpace(cells.Node().String())
		}
		if cells.Next() {
			value = strings.TrimSpace(cells.Node().String())
		}
		if key != "" {
			page.Info[key] = value
		}
	}
	if len(page.Info) == 0 {
		return nil, formatChanged(pageURL, "detail page without game info table")
	}

	if href, ok := detailDownloadPath.String(doc); ok {
		page.DownloadURL = strings.TrimSpace(href)
	}

	return page, nil
}

// BuildRecord merges a listing entry and its detail page into a canonical
// mod record. Type-level failures on upstream values are tagged as format
// drift, not crashes.
func BuildRecord(entry ListingEntry, page *DetailPage, pageURL string) (*normalizer.CanonicalRecord, error) {
	rec := &normalizer.CanonicalRecord{
		Kind:              normalizer.KindModDescriptor,
		Slug:              entry.Slug,
		UpstreamUpdatedAt: entry.UpdatedAt,
		Title:             normalizer.KnownField(page.Title),
		Author:            normalizer.UnknownField(),
		Version:           normalizer.UnknownField(),
		Category:          normalizer.UnknownField(),
		DownloadURL:       normalizer.UnknownField(),
		Released:          normalizer.UnknownField(),
		MapName:           normalizer.UnknownField(),
		SavegameName:      normalizer.UnknownField(),
		IngameDate:        normalizer.UnknownField(),
		PlayTime:          normalizer.UnknownField(),
	}

	if v, ok := page.Info[labelAuthor]; ok && v != "" {
		rec.Author = normalizer.KnownField(v)
	}
	if v, ok := page.Info[labelVersion]; ok && v != "" {
		rec.Version = normalizer.KnownField(v)
	}
	if v, ok := page.Info[labelCategory]; ok && v != "" {
		rec.Category = normalizer.KnownField(v)
	}
	if v, ok := page.Info[labelSize]; ok && v != "" {
		size, err := utils.ParseFileSize(v)
		if err != nil {
			return nil, formatChanged(pageURL, "size %q: %v", v, err)
		}
		rec.Size = normalizer.NumberField{Value: size, Literal: v, Known: true}
	}
	if v, ok := page.Info[labelReleased]; ok && v != "" {
		released, err := time.Parse("02.01.2006", v)
		if err != nil {
			return nil, formatChanged(pageURL, "release date %q: %v", v, err)
		}
		rec.Released = normalizer.Field{Value: released.Format("2006-01-02"), Literal: v, Known: true}
	}
	if page.DownloadURL != "" {
		rec.DownloadURL = normalizer.KnownField(page.DownloadURL)
	}

	return rec, nil
}

// slugFromHref extracts the stable mod slug from a detail link.
func slugFromHref(href string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	slug := u.Query().Get("mod_id")
	if slug == "" {
		return "", formatChanged(href, "missing mod_id parameter")
	}
	return slug, nil
}
