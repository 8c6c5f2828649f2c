package miner

import "fmt"

// Vocabulary names the structural predicates and types the engine writes.
// The ontology itself is opaque; only these names are interpreted.
type Vocabulary struct {
	Type               string
	URL                string
	FileName           string
	FileSize           string
	FileLastModified   string
	BelongsToContainer string
	IsStoredAs         string
	DataSource         string
	Available          string
	PlainTextContent   string
	MIMEType           string
	Fingerprint        string
	ExtractionState    string
	IsRemovable        string
	UnmountDate        string

	FileDataObject     string
	Folder             string
	InformationElement string
	IndexedFolder      string

	// FilesystemGraph holds DataObject statements.
	FilesystemGraph string
}

// DefaultVocabulary returns the Nepomuk/tracker names.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Type:               "rdf:type",
		URL:                "nie:url",
		FileName:           "nfo:fileName",
		FileSize:           "nfo:fileSize",
		FileLastModified:   "nfo:fileLastModified",
		BelongsToContainer: "nfo:belongsToContainer",
		IsStoredAs:         "nie:isStoredAs",
		DataSource:         "nie:dataSource",
		Available:          "tracker:available",
		PlainTextContent:   "nie:plainTextContent",
		MIMEType:           "nie:mimeType",
		Fingerprint:        "tracker:fingerprint",
		ExtractionState:    "tracker:extractionState",
		IsRemovable:        "tracker:isRemovable",
		UnmountDate:        "tracker:unmountDate",

		FileDataObject:     "nfo:FileDataObject",
		Folder:             "nfo:Folder",
		InformationElement: "nie:InformationElement",
		IndexedFolder:      "tracker:IndexedFolder",

		FilesystemGraph: "tracker:FileSystem",
	}
}

// Override replaces names by key ("url", "file_name", "filesystem_graph", ...).
func (v *Vocabulary) Override(names map[string]string) error {
	fields := map[string]*string{
		"type":                 &v.Type,
		"url":                  &v.URL,
		"file_name":            &v.FileName,
		"file_size":            &v.FileSize,
		"file_last_modified":   &v.FileLastModified,
		"belongs_to_container": &v.BelongsToContainer,
		"is_stored_as":         &v.IsStoredAs,
		"data_source":          &v.DataSource,
		"available":            &v.Available,
		"plain_text_content":   &v.PlainTextContent,
		"mime_type":            &v.MIMEType,
		"fingerprint":          &v.Fingerprint,
		"extraction_state":     &v.ExtractionState,
		"is_removable":         &v.IsRemovable,
		"unmount_date":         &v.UnmountDate,
		"file_data_object":     &v.FileDataObject,
		"folder":               &v.Folder,
		"information_element":  &v.InformationElement,
		"indexed_folder":       &v.IndexedFolder,
		"filesystem_graph":     &v.FilesystemGraph,
	}
	for key, name := range names {
		field, ok := fields[key]
		if !ok {
			return fmt.Errorf("unknown vocabulary key %q", key)
		}
		if name == "" {
			return fmt.Errorf("vocabulary key %q has an empty name", key)
		}
		*field = name
	}
	return nil
}
