package preview

import _ "embed"

// Stylesheet styles diagram containers, controls and the fullscreen modal.
//
//go:embed assets/preview.css
var Stylesheet string
