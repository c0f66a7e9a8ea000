package tasks

// DefineTasks registers all available tasks
func DefineTasks() {
	// Register general tasks
	RegisterHandler(LogInfoTask.TaskID(), LogInfoTask.HandleExecution)

	// Register billing tasks
	RegisterHandler(RunBillingCycleTask.TaskID(), RunBillingCycleTask.HandleExecution)
	RegisterHandler(RetrySweepTask.TaskID(), RetrySweepTask.HandleExecution)

	// Register notification tasks
	RegisterHandler(SendDunningNotificationTask.TaskID(), SendDunningNotificationTask.HandleExecution)
}
