// Package canonical defines the uniform record shape every sink
// consumes, and the mapper and builder stages that produce it.
//
// The Mapper projects intermediate decoder records into kind-specific
// payload variants with uniform field names. The Builder finalizes
// records with provenance metadata and a 0-100 quality score. Change
// annotations are added between the two by the state engine.
package canonical
