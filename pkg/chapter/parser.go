package chapter

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"

	"github.com/mdxtools/mdup/pkg/config"
	"github.com/mdxtools/mdup/pkg/errcodes"
)

// fileNameRE is the canonical chapter naming grammar:
//
//	[artist] title [language] - cNNN (vNN) (chapter title) {publish date} [group1+group2] {v2}.ext
//
// Every bracketed segment is optional except the title and chapter number.
var fileNameRE = regexp.MustCompile(
	`(?i)^(?:\[(?P<artist>.+?)?\])?\s?` +
		`(?P<title>.+?)` +
		`(?:\s?\[(?P<language>[a-z]{2}(?:-[a-z]{2})?|[a-zA-Z]{3}|[a-zA-Z]+)?\])?\s-\s` +
		`(?P<prefix>(?:[c](?:h(?:a?p?(?:ter)?)?)?\.?\s?))?(?P<chapter>\d+(?:\.\d+)?)` +
		`(?:\s?\((?:[v](?:ol(?:ume)?s?)?\.?\s?)?(?P<volume>\d+(?:\.\d+)?)?\))?` +
		`(?:\s?\((?P<chapter_title>.+)?\))?` +
		`(?:\s?\{(?P<publish_date>(?P<publish_year>\d{4})-(?P<publish_month>\d{2})-(?P<publish_day>\d{2})` +
		`(?:[T\s](?P<publish_hour>\d{2})[:\-](?P<publish_minute>\d{2})(?:[:\-](?P<publish_second>\d{2}))?` +
		`(?:(?P<publish_offset>[+-])(?P<publish_timezone>\d{2}[:\-]?\d{2}))?)?)?\})?` +
		`(?:\s?\[(?:(?P<group>.+))?\])?` +
		`(?:\s?\{v?(?P<version>\d)?\})?` +
		`(?:\.(?P<extension>zip|cbz))?$`,
)

var chapterSegmentRE = regexp.MustCompile(`[.\-,]`)

// titlePlaceholders maps the placeholder tokens allowed in chapter titles
// back to the filesystem-illegal characters they stand in for.
var titlePlaceholders = map[string]string{
	"{backslash}":     `\`,
	"{slash}":         "/",
	"{colon}":         ":",
	"{asterisk}":      "*",
	"{question_mark}": "?",
	"{quote}":         `"`,
	"{less_than}":     "<",
	"{greater_than}":  ">",
	"{pipe}":          "|",
}

// publishCeiling is how far in the future the platform accepts a scheduled
// publish time.
const publishCeiling = 14 * 24 * time.Hour

// Parser extracts chapter metadata from file and folder names, resolving
// series and group names through the name-to-ID map.
type Parser struct {
	names           *config.NameIDMap
	fallbackGroupID string
	log             logger.Logger

	now func() time.Time
}

func NewParser(names *config.NameIDMap, fallbackGroupID string) *Parser {
	return &Parser{
		names:           names,
		fallbackGroupID: fallbackGroupID,
		log:             logger.New(),
		now:             time.Now,
	}
}

// Parse extracts metadata from the base name of path. A name that doesn't
// match the grammar or a series that can't be resolved is a hard failure
// for the item.
func (p *Parser) Parse(path string, isFolder bool) (*Metadata, error) {
	name := filepath.Base(path)

	match := fileNameRE.FindStringSubmatch(name)
	if match == nil {
		return nil, errcodes.NamingFormatInvalid(name)
	}
	groups := namedGroups(fileNameRE, match)

	seriesID, err := p.resolveSeries(groups["title"], name)
	if err != nil {
		return nil, err
	}

	md := &Metadata{
		SeriesID:   seriesID,
		Language:   parseLanguage(groups["language"]),
		GroupIDs:   p.resolveGroups(groups["group"]),
		Title:      parseTitle(groups["chapter_title"]),
		SourcePath: path,
		SourceName: name,
		IsFolder:   isFolder,
	}

	md.ChapterNumber = parseNumber(groups["chapter"])
	if groups["prefix"] == "" {
		// No chapter prefix token means this is a one-shot.
		md.ChapterNumber = nil
		md.OneShot = true
		p.log.Info("no chapter prefix found, treating as one-shot", logger.Data{"name": name})
	}
	md.VolumeNumber = parseNumber(groups["volume"])

	md.PublishAt, md.PublishFarOut = p.parsePublishAt(groups, name)

	return md, nil
}

func (p *Parser) resolveSeries(title, name string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", errcodes.NamingFormatInvalid(name)
	}
	if _, err := uuid.Parse(title); err == nil {
		return title, nil
	}
	if id, ok := p.names.Manga[title]; ok && id != "" {
		return id, nil
	}
	return "", errcodes.SeriesNotResolved(title)
}

func (p *Parser) resolveGroups(group string) []string {
	ids := []string{}
	for _, name := range strings.Split(group, "+") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := uuid.Parse(name); err == nil {
			ids = append(ids, name)
			continue
		}
		id, ok := p.names.Group[name]
		if !ok || id == "" {
			p.log.Warn("no group ID found, not tagging the upload with this group", logger.Data{"group": name})
			continue
		}
		ids = append(ids, id)
	}

	if len(ids) == 0 && p.fallbackGroupID != "" {
		ids = append(ids, p.fallbackGroupID)
	}
	return ids
}

// parseNumber normalizes a chapter or volume number. Leading zeros are
// stripped from each dot, dash, or comma separated segment independently;
// a segment that strips to nothing becomes "0".
func parseNumber(num string) *string {
	num = strings.TrimSpace(num)
	if num == "" {
		return nil
	}

	parts := chapterSegmentRE.Split(num, -1)
	for i, part := range parts {
		stripped := strings.TrimLeft(part, "0")
		if stripped == "" {
			stripped = "0"
		}
		parts[i] = stripped
	}
	normalized := strings.Join(parts, ".")
	return &normalized
}

func parseLanguage(language string) string {
	language = strings.TrimSpace(language)
	if language == "" {
		return "en"
	}
	return strings.ToLower(language)
}

func parseTitle(title string) *string {
	if title == "" {
		return nil
	}
	title = strings.TrimSpace(title)
	for placeholder, char := range titlePlaceholders {
		title = strings.ReplaceAll(title, placeholder, char)
	}
	return &title
}

func (p *Parser) parsePublishAt(groups map[string]string, name string) (*time.Time, bool) {
	if groups["publish_date"] == "" {
		return nil, false
	}

	stamp := fmt.Sprintf("%s-%s-%sT%s:%s:%s",
		groups["publish_year"], groups["publish_month"], groups["publish_day"],
		orZero(groups["publish_hour"]), orZero(groups["publish_minute"]), orZero(groups["publish_second"]))

	layout := "2006-01-02T15:04:05"
	if groups["publish_offset"] != "" {
		tz := strings.NewReplacer(":", "", "-", "").Replace(groups["publish_timezone"])
		stamp += groups["publish_offset"] + tz
		layout += "-0700"
	}

	publishAt, err := time.Parse(layout, stamp)
	if err != nil {
		p.log.Warn("unparsable publish date, ignoring", logger.Data{"name": name, "date": stamp})
		return nil, false
	}
	publishAt = publishAt.UTC()

	now := p.now().UTC()
	if publishAt.Before(now) {
		p.log.Warn("publish date is in the past, not scheduling", logger.Data{"name": name, "publish_at": publishAt})
		return nil, false
	}

	farOut := publishAt.After(now.Add(publishCeiling))
	if farOut {
		p.log.Warn("publish date is over two weeks away, the platform may reject it", logger.Data{"name": name, "publish_at": publishAt})
	}
	return &publishAt, farOut
}

func orZero(s string) string {
	if s == "" {
		return "00"
	}
	return s
}

func namedGroups(re *regexp.Regexp, match []string) map[string]string {
	groups := map[string]string{}
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = match[i]
		}
	}
	return groups
}
