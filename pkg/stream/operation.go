// Package stream defines the sync-operation wire format, the pull-based
// operation stream, link composition, and the sync executor.
//
// Architecture:
//
//	Operation - Tagged wire value (data | commit | connUpdate | metaUpdate)
//	Stream    - Pull iterator over operations (Next/Value/Err/Close)
//	Link      - Stream transformer, composed by plain function application
//	Sync      - Drives source |> links |> destination to completion
//
// Every provider source, destination stage, and persistence link speaks
// this single protocol.
package stream

// OpKind discriminates the operation variants.
type OpKind string

const (
	// KindData carries a single record to persist.
	KindData OpKind = "data"
	// KindCommit is a checkpoint marker. Everything before it in the
	// stream is safe to consider durable at the destination.
	KindCommit OpKind = "commit"
	// KindConnUpdate signals that connection metadata changed.
	KindConnUpdate OpKind = "connUpdate"
	// KindMetaUpdate signals that pipeline/connection options changed.
	KindMetaUpdate OpKind = "metaUpdate"
)

// Operation is the tagged value flowing through every link. Exactly one
// payload field is set, matching Kind.
type Operation struct {
	Kind OpKind

	Data       *DataPayload
	ConnUpdate *ConnUpdatePayload
	MetaUpdate *MetaUpdatePayload
}

// DataPayload is a record to persist at the destination.
type DataPayload struct {
	// ID identifies the record within its entity namespace.
	ID string
	// EntityName is the record variant, e.g. "account" or "transaction".
	EntityName string
	// Entity is the record body, provider-native or standardized
	// depending on where in the link chain it is observed.
	Entity map[string]any
}

// ConnUpdatePayload describes a connection settings change emitted by a
// source provider, typically to bookmark its own resumption point.
type ConnUpdatePayload struct {
	// ID is the connection id the settings belong to.
	ID       string
	Settings map[string]any
	// Institution optionally carries the provider-native institution
	// record associated with this connection.
	Institution map[string]any
}

// MetaUpdatePayload describes connection settings plus pipeline sync
// options emitted by a destination stage after a flush.
type MetaUpdatePayload struct {
	// ID is the connection id the settings belong to.
	ID                     string
	Settings               map[string]any
	SourceSyncOptions      map[string]any
	DestinationSyncOptions map[string]any
}

// Data builds a data operation.
func Data(id, entityName string, entity map[string]any) Operation {
	return Operation{Kind: KindData, Data: &DataPayload{ID: id, EntityName: entityName, Entity: entity}}
}

// Commit builds a checkpoint marker.
func Commit() Operation {
	return Operation{Kind: KindCommit}
}

// ConnUpdate builds a connection-update operation.
func ConnUpdate(id string, settings, institution map[string]any) Operation {
	return Operation{Kind: KindConnUpdate, ConnUpdate: &ConnUpdatePayload{ID: id, Settings: settings, Institution: institution}}
}

// MetaUpdate builds a meta-update operation.
func MetaUpdate(id string, settings, sourceOptions, destinationOptions map[string]any) Operation {
	return Operation{Kind: KindMetaUpdate, MetaUpdate: &MetaUpdatePayload{
		ID:                     id,
		Settings:               settings,
		SourceSyncOptions:      sourceOptions,
		DestinationSyncOptions: destinationOptions,
	}}
}
