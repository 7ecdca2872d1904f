// Package theme turns highlight tag vocabularies into CSS. A theme maps
// each short presentation tag to a color and font style; Stylesheet
// emits the rules that make tagged output visible. Themes come from
// built-in definitions or TOML files on disk.
package theme
