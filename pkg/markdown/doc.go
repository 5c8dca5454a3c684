// Package markdown converts markdown documents into preview HTML.
//
// Fenced blocks in a diagram language (mermaid, dot, graphviz) become
// diagram containers carrying their source and the configuration blob;
// every other fence is syntax highlighted. A YAML front matter block may
// override the diagram configuration for a single document.
package markdown
