package models

// NotificationType classifies messages this service asks the
// notification platform to deliver.
type NotificationType string

const (
	NotificationLowPointRecorded   NotificationType = "low_point_recorded"
	NotificationStudentFlagged     NotificationType = "student_flagged"
	NotificationHomeworkReassigned NotificationType = "homework_reassigned"
	NotificationBatchCompleted     NotificationType = "batch_completed"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)
