package news

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Region is the geographic tag of an item or subscription filter.
type Region string

const (
	RegionEurope  Region = "Europe"
	RegionAsia    Region = "Asia"
	RegionOceania Region = "Oceania"
	RegionAfrica  Region = "Africa"
	RegionAmerica Region = "America"
	RegionGlobal  Region = "Global"
)

// Category is the topical tag of an item or subscription filter.
type Category string

const (
	CategoryWorld      Category = "World"
	CategoryPolitics   Category = "Politics"
	CategoryEconomy    Category = "Economy"
	CategorySports     Category = "Sports"
	CategoryCulture    Category = "Culture"
	CategoryTechnology Category = "Technology"
)

// Language is a lower-case ISO 639-1 code ("en", "fr", ...).
type Language string

func (r Region) String() string   { return string(r) }
func (c Category) String() string { return string(c) }
func (l Language) String() string { return string(l) }

var regions = map[Region]bool{
	RegionEurope: true, RegionAsia: true, RegionOceania: true,
	RegionAfrica: true, RegionAmerica: true, RegionGlobal: true,
}

var categories = map[Category]bool{
	CategoryWorld: true, CategoryPolitics: true, CategoryEconomy: true,
	CategorySports: true, CategoryCulture: true, CategoryTechnology: true,
}

func ParseRegion(s string) (Region, error) {
	for r := range regions {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown region %q", s)
}

func ParseCategory(s string) (Category, error) {
	for c := range categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func ParseLanguage(s string) (Language, error) {
	l := strings.ToLower(strings.TrimSpace(s))
	if len(l) != 2 || l[0] < 'a' || l[0] > 'z' || l[1] < 'a' || l[1] > 'z' {
		return "", fmt.Errorf("invalid language code %q", s)
	}
	return Language(l), nil
}

// Tags is the (region, category, language) triple every published item carries.
// All three dimensions are required by the time an item reaches the broadcast
// pipeline.
type Tags struct {
	Region   Region   `json:"region"`
	Category Category `json:"category"`
	Language Language `json:"language"`
}

func (t Tags) Validate() error {
	if !regions[t.Region] {
		return fmt.Errorf("tags: unknown region %q", t.Region)
	}
	if !categories[t.Category] {
		return fmt.Errorf("tags: unknown category %q", t.Category)
	}
	if _, err := ParseLanguage(string(t.Language)); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	return nil
}

func (t Tags) String() string {
	return string(t.Region) + "/" + string(t.Category) + "/" + string(t.Language)
}

// Item is a published news unit. Immutable once published; the broadcast
// pipeline references items by ID and never mutates them.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url,omitempty"`
	Credit      string    `json:"credit,omitempty"`
	ReporterID  string    `json:"reporter_id"`
	Tags        Tags      `json:"tags"`
	PublishedAt time.Time `json:"published_at"`
}

// NewItem assigns identity and the publication timestamp. Validation is the
// submitter's last chance to reject a malformed item before it becomes
// immutable.
func NewItem(title, description, imageURL, credit, reporterID string, tags Tags) (Item, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Item{}, errors.New("news: title is required")
	}
	if strings.TrimSpace(reporterID) == "" {
		return Item{}, errors.New("news: reporter id is required")
	}
	if err := tags.Validate(); err != nil {
		return Item{}, err
	}
	return Item{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(description),
		ImageURL:    strings.TrimSpace(imageURL),
		Credit:      strings.TrimSpace(credit),
		ReporterID:  strings.TrimSpace(reporterID),
		Tags:        tags,
		PublishedAt: time.Now().UTC(),
	}, nil
}
