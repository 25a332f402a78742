package offline

import (
	"regexp"
	"strings"
)

// Classification tags a request with the strategy that serves it.
type Classification int

const (
	ClassOther Classification = iota
	ClassAsset
	ClassPage
)

func (c Classification) String() string {
	switch c {
	case ClassAsset:
		return "asset"
	case ClassPage:
		return "page"
	default:
		return "other"
	}
}

var imagePattern = regexp.MustCompile(`\.(png|jpg|jpeg|gif|webp)$`)

// classifier holds the precache lists used to tag requests. The asset check
// runs first, so a path matching both lists is an asset.
type classifier struct {
	assets []string
	pages  map[string]struct{}
}

func newClassifier(pages, assets []string) classifier {
	set := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		set[p] = struct{}{}
	}
	return classifier{
		assets: append([]string(nil), assets...),
		pages:  set,
	}
}

func (c classifier) classify(req *Request) Classification {
	for _, asset := range c.assets {
		if strings.HasSuffix(req.Path, asset) {
			return ClassAsset
		}
	}
	if _, ok := c.pages[req.Path]; ok || req.IsNavigation() {
		return ClassPage
	}
	return ClassOther
}

func isImagePath(path string) bool {
	return imagePattern.MatchString(path)
}
