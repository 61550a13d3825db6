package toolchain

type compileRequest struct {
	Code       string `json:"code"`
	Board      string `json:"board"`
	SketchPath string `json:"sketch_path"`
}

type uploadRequest struct {
	Code       string `json:"code"`
	Board      string `json:"board"`
	Port       string `json:"port"`
	SketchPath string `json:"sketch_path"`
}

type libraryRequest struct {
	LibraryName string `json:"library_name"`
}

type coreRequest struct {
	CoreName string `json:"core_name"`
}

type librarySearchRequest struct {
	Query string `json:"query"`
}
