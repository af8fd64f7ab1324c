// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// MaterialProcessingTask asks the pipeline to extract and index a study material.
type MaterialProcessingTask struct {
	MaterialID uint   `json:"material_id"`
	RoomID     uint   `json:"room_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	// Delete removes the material from the search index instead of indexing it.
	Delete bool `json:"delete,omitempty"`
}
