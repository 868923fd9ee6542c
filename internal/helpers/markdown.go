// Package helpers contains small text utilities shared by the ingest and
// serving paths.
package helpers

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	localImagePattern     = regexp.MustCompile(`(!?\[[^\]]*\])\((?:\.?/)?(images/[^)\s]+)\)`)
	anyLinkPattern        = regexp.MustCompile(`(\]\()([^)]+)\)`)
	linkToImagePattern    = regexp.MustCompile(`(^|[^!])\[([^\]]*)\]\((https?://[^)\s]+\.(?:png|jpe?g|gif|svg))\)`)
	multilineImagePattern = regexp.MustCompile(`(?s)!\[(.*?)\]\((https?://[^)\s]+\.(?:png|jpe?g|gif|svg))\)`)
	repoPrefixPattern     = regexp.MustCompile(`^repo[^/]*/(.*)$`)
)

// RepairExcerptMarkdown normalizes the markdown excerpts stored with corpus
// entries so they render without breaking:
//  1. relative image links under images/ are rewritten to absolute URLs
//     rooted at imageBaseURL plus the source document's directory;
//  2. spaces inside any link URL become %20;
//  3. plain links pointing at an image file become image syntax;
//  4. images with multi-line alt text are collapsed to ![image](url).
func RepairExcerptMarkdown(md, sourcePath, imageBaseURL string) string {
	if md == "" {
		return md
	}

	if sourcePath != "" && imageBaseURL != "" {
		dir := path.Dir(sourcePath)
		if m := repoPrefixPattern.FindStringSubmatch(dir); m != nil {
			dir = m[1]
		}
		prefix := strings.TrimRight(imageBaseURL, "/") + "/" + strings.Trim(dir, "/") + "/"
		md = localImagePattern.ReplaceAllStringFunc(md, func(s string) string {
			parts := localImagePattern.FindStringSubmatch(s)
			rel := strings.ReplaceAll(parts[2], " ", "%20")
			return fmt.Sprintf("%s(%s%s)", parts[1], prefix, rel)
		})
	}

	md = anyLinkPattern.ReplaceAllStringFunc(md, func(s string) string {
		parts := anyLinkPattern.FindStringSubmatch(s)
		return "](" + strings.ReplaceAll(parts[2], " ", "%20") + ")"
	})

	md = linkToImagePattern.ReplaceAllString(md, "$1![$2]($3)")

	md = multilineImagePattern.ReplaceAllStringFunc(md, func(s string) string {
		parts := multilineImagePattern.FindStringSubmatch(s)
		if strings.Contains(parts[1], "\n") {
			return "![image](" + strings.TrimSpace(parts[2]) + ")"
		}
		return s
	})

	return md
}
