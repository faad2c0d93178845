package session

type loginInput struct {
	Body loginRequest
}

type loginRequest struct {
	Login    string `json:"login" minLength:"1" doc:"Логин"`
	Password string `json:"password" minLength:"1" doc:"Пароль"`
}

type loginOutput struct {
	Body loginResponse
}

type loginResponse struct {
	Token string `json:"token" doc:"Bearer токен сессии"`
}
