package gateway

// User is the profile returned by the auth endpoints.
type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// LoginResponse is the body of POST /api/auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

// Document is a file picked by the operator, carried to the backend as-is.
// No size or format checks happen on this side.
type Document struct {
	Name  string
	MIME  string
	Bytes []byte
}

// ExtractedData is the answer sheet the backend read off the uploaded paper.
// It is never mutated after the extract call: the grade call sends it back
// verbatim next to the correction map.
type ExtractedData struct {
	MHEType         string            `json:"mhe_type"`
	ParticipantName string            `json:"participant_name"`
	Company         string            `json:"company"`
	Date            string            `json:"date"`
	Place           string            `json:"place"`
	TestType        string            `json:"test_type"`
	TotalQuestions  int               `json:"total_questions"`
	Answers         map[string]string `json:"answers"`
	SourceImage     string            `json:"source_image"`
}

type QuestionDetail struct {
	QuestionNumber string  `json:"question_number"`
	StudentAnswer  string  `json:"student_answer"`
	CorrectAnswer  string  `json:"correct_answer"`
	IsCorrect      bool    `json:"is_correct"`
	Remark         string  `json:"remark"`
	MarksObtained  float64 `json:"marks_obtained"`
}

type GradingResult struct {
	ParticipantName    string            `json:"participant_name"`
	Company            string            `json:"company"`
	Date               string            `json:"date"`
	Place              string            `json:"place"`
	TestType           string            `json:"test_type"`
	MHEType            string            `json:"mhe_type"`
	Answers            map[string]string `json:"answers"`
	TotalMarksObtained float64           `json:"total_marks_obtained"`
	TotalMarks         float64           `json:"total_marks"`
	Percentage         float64           `json:"percentage"`
	Grade              string            `json:"grade"`
	Details            []QuestionDetail  `json:"details"`
}
