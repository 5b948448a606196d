package domain

import (
	"errors"
	"time"
)

// ErrSeoMetaNotFound is returned by SeoMetaRepository.Get when no
// record exists for the post.
var ErrSeoMetaNotFound = errors.New("seo metadata not found")

// SeoMeta holds the SEO fields attached to a single post. Rendering of
// the markup (JSON-LD, Open Graph tags) is done by the consuming site;
// this service only stores and serves the values.
type SeoMeta struct {
	TenantID      string    `bson:"tenant_id" json:"tenant_id"`
	PostID        string    `bson:"post_id" json:"post_id"`
	Title         string    `bson:"title,omitempty" json:"title,omitempty"`
	Description   string    `bson:"description,omitempty" json:"description,omitempty"`
	FocusKeyword  string    `bson:"focus_keyword,omitempty" json:"focus_keyword,omitempty"`
	CanonicalURL  string    `bson:"canonical_url,omitempty" json:"canonical_url,omitempty"`
	NoIndex       bool      `bson:"no_index,omitempty" json:"no_index,omitempty"`
	NoFollow      bool      `bson:"no_follow,omitempty" json:"no_follow,omitempty"`
	SchemaType    string    `bson:"schema_type,omitempty" json:"schema_type,omitempty"`
	OGTitle       string    `bson:"og_title,omitempty" json:"og_title,omitempty"`
	OGDescription string    `bson:"og_description,omitempty" json:"og_description,omitempty"`
	OGImageURL    string    `bson:"og_image_url,omitempty" json:"og_image_url,omitempty"`
	TwitterCard   string    `bson:"twitter_card,omitempty" json:"twitter_card,omitempty"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}
