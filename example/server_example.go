package example

import (
	"net/http"

	"github.com/bornholm/lanupdate/config"
	"github.com/bornholm/lanupdate/handler"
)

func ExampleServer() {
	repos := config.Config{}.ServedRepositories("/ostree/repo", "eos")
	handler := handler.New(repos)

	if err := http.ListenAndServe("127.0.0.1:8080", handler); err != nil {
		panic(err)
	}
}
