package dom

// Body classes that mark a dark editor theme.
const (
	ClassDark         = "vscode-dark"
	ClassLight        = "vscode-light"
	ClassHighContrast = "vscode-high-contrast"
)

// IsDark reports whether the body carries a dark theme class.
func (d *Document) IsDark() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return HasClass(d.body, ClassDark) || HasClass(d.body, ClassHighContrast) || HasClass(d.body, "dark")
}

// SetDark switches the body theme class.
func (d *Document) SetDark(dark bool) {
	d.SetClass(d.body, ClassHighContrast, false)
	d.SetClass(d.body, ClassDark, dark)
	d.SetClass(d.body, ClassLight, !dark)
	if !dark {
		d.SetClass(d.body, "dark", false)
	}
}

// IsThemeRecord reports whether rec may have changed the theme flag.
func (d *Document) IsThemeRecord(rec Record) bool {
	return rec.Op == OpAttr && rec.Attr == "class" && (rec.Target == d.body || rec.Target == d.htmlEl)
}
