// Package extractors provides TextExtractor implementations for the document
// formats accepted by ingestion. Each extractor knows how to read text out of
// files with a given extension.
//
// Extractors are registered with a Registry, which is itself a TextExtractor
// that dispatches on the file extension.
package extractors
