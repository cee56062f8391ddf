package api

const (
	// PrmFile - single upload audio file form param
	PrmFile = "file"
	// PrmOriginal - optional pre-compression backup of the uploaded audio
	PrmOriginal = "original"
	// PrmChunk - chunked upload part form param
	PrmChunk = "chunk"
	// PrmSessionID - chunked upload session
	PrmSessionID = "sessionId"
	// PrmChunkIndex - zero based part index
	PrmChunkIndex = "chunkIndex"
	// PrmTotalChunks - number of parts in the session
	PrmTotalChunks = "totalChunks"
	// PrmPatientID - patient the consultation belongs to
	PrmPatientID = "patientId"
	// PrmDuration - audio duration in seconds as reported by the client
	PrmDuration = "duration"
	// PrmFileName - original file name of a chunked upload
	PrmFileName = "fileName"
	// PrmFileType - mime type of a chunked upload
	PrmFileType = "fileType"
	// PrmHash - optional content fingerprint
	PrmHash = "hash"
	// PrmConsultationType - well_child, urgent or routine
	PrmConsultationType = "consultationType"
	// PrmSubtype - free text consultation subtype
	PrmSubtype = "subtype"
	// PrmResume - reprocess from the last completed step
	PrmResume = "resume"
	// PrmOriginalAudio - reprocess using the preserved original audio
	PrmOriginalAudio = "original"

	// HeaderDoctorID is set by the auth proxy
	HeaderDoctorID = "x-doctor-id"
)
