package resources

import "embed"

//go:embed migrations i18n stopwords.yml
var FS embed.FS
