package queue

// Redis key layout for one named queue. Job bodies live in a hash keyed by
// job id; the waiting list and the delayed/scheduler sorted sets hold ids
// only, so moving a job between states never copies its payload.

func waitingKey(queue string) string {
	return "queue:" + queue + ":waiting"
}

func delayedKey(queue string) string {
	return "queue:" + queue + ":delayed"
}

func jobsKey(queue string) string {
	return "queue:" + queue + ":jobs"
}

func schedulersKey(queue string) string {
	return "queue:" + queue + ":schedulers"
}

// schedulerDueKey scores each scheduler id by its next fire time in unix
// milliseconds
func schedulerDueKey(queue string) string {
	return "queue:" + queue + ":schedulers:due"
}

func eventsChannel(queue, jobID string) string {
	return "queue:" + queue + ":events:" + jobID
}
