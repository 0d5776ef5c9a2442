// Package model defines the document types shared by every SynapsD store.
package model
