package status

//Status represents consultation processing status
type Status int

const (
	// Pending - uploaded, waiting for a worker
	Pending Status = iota + 1
	// Processing - a worker holds the lease
	Processing
	// Completed - final step
	Completed
	// Error - pipeline stopped on a failed step
	Error
)

var (
	statusName = map[Status]string{Pending: "pending", Processing: "processing",
		Completed: "completed", Error: "error"}
	nameStatus = map[string]Status{"pending": Pending, "processing": Processing,
		"completed": Completed, "error": Error}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// Step is a pipeline stage
type Step int

const (
	// Download - fetch audio from the file store
	Download Step = iota + 1
	// Transcription - compress/chunk, transcribe and deduplicate
	Transcription
	// Cleaning - LLM transcript cleaning
	Cleaning
	// Extraction - LLM structured field extraction
	Extraction
)

// Steps lists pipeline stages in execution order
var Steps = []Step{Download, Transcription, Cleaning, Extraction}

var (
	stepName = map[Step]string{Download: "download", Transcription: "transcription",
		Cleaning: "cleaning", Extraction: "extraction"}
	nameStep = map[string]Step{"download": Download, "transcription": Transcription,
		"cleaning": Cleaning, "extraction": Extraction}
)

func (st Step) String() string {
	return stepName[st]
}

// StepFrom returns step obj from string
func StepFrom(st string) Step {
	return nameStep[st]
}

// StepStatus is a state of one pipeline stage
type StepStatus int

const (
	// InProgress - stage started
	InProgress StepStatus = iota + 1
	// Done - stage finished and its result is persisted
	Done
	// Failed - stage failed, the pipeline stopped here
	Failed
)

var (
	stepStatusName = map[StepStatus]string{InProgress: "in_progress", Done: "completed", Failed: "error"}
	nameStepStatus = map[string]StepStatus{"in_progress": InProgress, "completed": Done, "error": Failed}
)

func (st StepStatus) String() string {
	return stepStatusName[st]
}

// StepStatusFrom returns step status obj from string
func StepStatusFrom(st string) StepStatus {
	return nameStepStatus[st]
}

// ErrCode represents err code
type ErrCode int

const (
	// ECServiceError - transient or unknown failure
	ECServiceError ErrCode = iota + 1
	// ECNotFound - no such consultation
	ECNotFound
	// ECInsufficientData - transcript too short to extract anything
	ECInsufficientData
	// ECMediaTooLarge - audio can't be brought under the transcription limit
	ECMediaTooLarge
	// ECBadResponse - upstream returned malformed output
	ECBadResponse
)

var (
	ecName = map[ErrCode]string{ECServiceError: "SERVICE_ERROR", ECNotFound: "NOT_FOUND",
		ECInsufficientData: "DADOS_INSUFICIENTES", ECMediaTooLarge: "MEDIA_TOO_LARGE",
		ECBadResponse: "BAD_UPSTREAM_RESPONSE"}
)

func (ec ErrCode) String() string {
	return ecName[ec]
}
