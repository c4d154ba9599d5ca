package config

type WorkerKeyStruct struct {
	PersistProctorEventsQueue string
	ReconcileTurnsQueue       string
}

var WorkerKey = &WorkerKeyStruct{
	PersistProctorEventsQueue: "persist_proctor_events_queue",
	ReconcileTurnsQueue:       "reconcile_turns_queue",
}
